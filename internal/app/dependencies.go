package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/bazaar/internal/health"
	"github.com/vladislavdragonenkov/bazaar/internal/storage/memory"
	"github.com/vladislavdragonenkov/bazaar/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/bazaar/internal/storage/redis"
)

// runtimeDependencies собирает хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	uow             domain.UnitOfWork
	reads           domain.Repositories
	roles           domain.RoleRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	checkers        map[string]healthcheck.Checker
	closers         []func() error
}

func (d *runtimeDependencies) close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

// initRuntimeDependencies открывает хранилище и, если задан REDIS_ADDR, Redis для ключей идемпотентности.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		store := memory.NewStore()
		deps.uow = store
		deps.reads = store
		deps.roles = store.Roles()
		deps.outboxRepo = store.Outbox()
		deps.idempotencyRepo = memory.NewIdempotencyRepository()
		logger.Info("using in-memory storage")

	case StorageDriverPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres storage requires POSTGRES_DSN")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		deps.closers = append(deps.closers, store.Close)

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = deps.close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
		}

		repos := store.Repositories()
		deps.uow = store.UnitOfWork()
		deps.reads = repos
		deps.roles = store.Roles()
		deps.outboxRepo = repos.Outbox()
		deps.idempotencyRepo = postgres.NewIdempotencyRepository(store.Pool())
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
		logger.Info("using postgres storage")

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if cfg.RedisAddr != "" {
		client, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			_ = deps.close()
			return nil, err
		}
		deps.closers = append(deps.closers, client.Close)
		deps.idempotencyRepo = redisstore.NewIdempotencyRepository(client)
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		logger.WithField("addr", cfg.RedisAddr).Info("idempotency keys are stored in redis")
	}

	return deps, nil
}
