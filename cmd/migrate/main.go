// Команда migrate управляет схемой PostgreSQL рынка и выдаёт роль courier admin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "MARKET_POSTGRES_DSN"
)

type options struct {
	command string
	steps   int
	dsn     string
	user    string
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.command, "direction", "up", "command: up|down|status|grant")
	fs.IntVar(&opts.steps, "steps", 0, "migrations to apply or roll back (0 = all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.StringVar(&opts.user, "user", "", "user id that receives the courier admin role (grant only)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.command = strings.ToLower(strings.TrimSpace(opts.command))
	switch opts.command {
	case "up", "down", "status", "grant":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status|grant)", opts.command)
	}

	if opts.dsn = strings.TrimSpace(opts.dsn); opts.dsn == "" {
		opts.dsn = strings.TrimSpace(os.Getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, errors.New(envPostgresDSN + " (or -dsn) is required")
	}

	opts.user = strings.TrimSpace(opts.user)
	if opts.command == "grant" && opts.user == "" {
		return options{}, errors.New("-user is required for grant")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch opts.command {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	case "grant":
		if err := postgres.GrantRole(ctx, store.Pool(), opts.user, domain.RoleCourierAdmin); err != nil {
			return fmt.Errorf("grant role: %w", err)
		}
		_, err := fmt.Fprintf(out, "role %s granted to %s\n", domain.RoleCourierAdmin, opts.user)
		return err
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}
	return writeState(out, opts.command, state)
}

// writeState печатает состояние схемы: строку-итог и по строке на каждую ожидающую
// или неизвестную миграцию.
func writeState(out io.Writer, command string, state postgres.MigrationState) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: version=%d applied=%d pending=%d\n", command, state.Version, state.Applied, len(state.Pending))
	for _, name := range state.Pending {
		fmt.Fprintf(&b, "  pending %s\n", name)
	}
	for _, version := range state.Unknown {
		fmt.Fprintf(&b, "  unknown version %d: database is ahead of this binary\n", version)
	}
	_, err := io.WriteString(out, b.String())
	return err
}
