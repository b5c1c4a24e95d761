package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
	"github.com/vladislavdragonenkov/bazaar/internal/identity"
	"github.com/vladislavdragonenkov/bazaar/internal/metrics"
	"github.com/vladislavdragonenkov/bazaar/internal/service/market"
	"github.com/vladislavdragonenkov/bazaar/internal/storage/memory"
	"github.com/vladislavdragonenkov/bazaar/internal/transport/httpapi"
)

const adminUser = "lt-admin"

// newMarketServer поднимает настоящий HTTP API поверх in-memory хранилища.
func newMarketServer(t *testing.T) *httptest.Server {
	t.Helper()

	store := memory.NewStore()
	store.GrantRole(adminUser, domain.RoleCourierAdmin)

	logger, _ := test.NewNullLogger()
	entry := log.NewEntry(logger)
	m := metrics.NewMarketMetricsWithRegisterer(prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(httpapi.NewRouter(ctx, httpapi.Deps{
		Service:     market.NewService(store, store, market.WithLogger(entry), market.WithMetrics(m)),
		Resolver:    identity.NewResolver(store.Profiles(), store.Roles()),
		Idempotency: memory.NewIdempotencyRepository(),
		Metrics:     m,
		Logger:      entry,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestParseConfig(t *testing.T) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	cfg, err := parseConfig(fs, []string{"-addr=http://market:8080/", "-offers=3", "-buyers=4", "-courier-id=7", "-run-tag=ci"})
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.baseURL != "http://market:8080" {
		t.Fatalf("trailing slash was not trimmed: %s", cfg.baseURL)
	}
	if cfg.offers != 3 || cfg.buyers != 4 || cfg.courierID != 7 || cfg.runTag != "ci" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseConfig_Validation(t *testing.T) {
	cases := map[string][]string{
		"no courier":      {},
		"single buyer":    {"-courier-id=1", "-buyers=1"},
		"zero offers":     {"-courier-id=1", "-offers=0"},
		"zero workers":    {"-courier-id=1", "-concurrency=0"},
		"negative rps":    {"-courier-id=1", "-rps=-1"},
		"zero timeout":    {"-courier-id=1", "-timeout=0s"},
		"empty addr":      {"-courier-id=1", "-addr= "},
		"unknown flag":    {"-courier-id=1", "-nope"},
		"malformed value": {"-courier-id=abc"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
			fs.SetOutput(io.Discard)
			if _, err := parseConfig(fs, args); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSettledOnce(t *testing.T) {
	cases := []struct {
		statuses []int
		want     bool
	}{
		{statuses: []int{201, 409, 409}, want: true},
		{statuses: []int{409, 409}, want: false},
		{statuses: []int{201, 201}, want: false},
		{statuses: []int{201, 500}, want: false},
		{statuses: []int{201, 0}, want: false},
	}
	for _, tc := range cases {
		if got := settledOnce(tc.statuses); got != tc.want {
			t.Fatalf("settledOnce(%v) = %v, want %v", tc.statuses, got, tc.want)
		}
	}
}

func TestRun_AgainstMarketAPI(t *testing.T) {
	srv := newMarketServer(t)

	cfg := config{
		baseURL:     srv.URL,
		offers:      5,
		buyers:      4,
		concurrency: 2,
		timeout:     5 * time.Second,
		adminUser:   adminUser,
		runTag:      "it",
	}
	result, err := run(context.Background(), cfg, srv.Client())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.TotalScenarios != 5 || result.SuccessScenarios != 5 || result.FailedScenarios != 0 {
		t.Fatalf("every offer must be settled exactly once: %+v", result)
	}

	orders := result.Methods["CreateOrder"]
	if orders.Calls != 20 {
		t.Fatalf("unexpected order calls: %d", orders.Calls)
	}
	if orders.Codes["201"] != 5 || orders.Codes["409"] != 15 {
		t.Fatalf("unexpected order codes: %v", orders.Codes)
	}
	if result.Methods["CreateProfile"].Calls != 5 {
		t.Fatalf("expected seller and 4 buyer profiles, got %d", result.Methods["CreateProfile"].Calls)
	}

	// Повторный прогон с тем же тегом переиспользует профили.
	cfg.courierID = 1
	if _, err := run(context.Background(), cfg, srv.Client()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
}

func TestRun_CourierRequiresAdmin(t *testing.T) {
	srv := newMarketServer(t)

	cfg := config{baseURL: srv.URL, offers: 1, buyers: 2, concurrency: 1, timeout: time.Second, adminUser: "not-admin", runTag: "na"}
	if _, err := run(context.Background(), cfg, srv.Client()); err == nil {
		t.Fatal("expected courier creation to fail without admin role")
	}
}

func TestRun_DetectsDoubleSettlement(t *testing.T) {
	var offers atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v1/offers":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":` + strconv.FormatInt(offers.Add(1), 10) + `}`))
		case "/api/v1/orders":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":1}`))
		}
	}))
	defer srv.Close()

	cfg := config{baseURL: srv.URL, offers: 2, buyers: 3, concurrency: 1, timeout: time.Second, courierID: 1, runTag: "dbl", rps: 1000}
	result, err := run(context.Background(), cfg, srv.Client())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.FailedScenarios != 2 {
		t.Fatalf("expected both scenarios to fail, got %+v", result)
	}
}

func TestCollectorAndReport(t *testing.T) {
	col := newCollector()
	col.record(scenarioMethod, 10*time.Millisecond, "ok", true)
	col.record(scenarioMethod, 30*time.Millisecond, "lost_update", false)
	col.record("CreateOrder", 5*time.Millisecond, "201", true)

	result := col.buildReport(time.Now(), 2*time.Second)
	if result.TotalScenarios != 2 || result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario counters: %+v", result)
	}
	if result.ErrorRate != 0.5 || result.RPS != 1 {
		t.Fatalf("unexpected rates: error=%f rps=%f", result.ErrorRate, result.RPS)
	}
	if result.ScenarioLatencyMs.Max != 30 {
		t.Fatalf("unexpected latency summary: %+v", result.ScenarioLatencyMs)
	}

	var out bytes.Buffer
	printReport(&out, result, config{offers: 2, buyers: 3})
	if !strings.Contains(out.String(), "CreateOrder: calls=1") {
		t.Fatalf("report misses method line: %s", out.String())
	}
	if strings.Contains(out.String(), "scenario: calls") {
		t.Fatalf("scenario must not be listed as a method: %s", out.String())
	}
}

func TestUtilityFunctions(t *testing.T) {
	if got := percentile([]float64{1, 2, 3, 4}, 50); got != 2.5 {
		t.Fatalf("unexpected p50: %f", got)
	}
	if got := percentile(nil, 99); got != 0 {
		t.Fatalf("unexpected percentile of empty slice: %f", got)
	}
	if got := ratio(1, 0); got != 0 {
		t.Fatalf("unexpected ratio: %f", got)
	}
	if summary := buildLatencySummary(nil); summary != (latencySummary{}) {
		t.Fatalf("unexpected empty summary: %+v", summary)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(wd) }()

	if err := writeJSONReport("report.json", report{TotalScenarios: 3}); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded report
	if err := json.Unmarshal(raw, &decoded); err != nil || decoded.TotalScenarios != 3 {
		t.Fatalf("unexpected report %s: %v", raw, err)
	}

	if err := writeJSONReport("../escape.json", report{}); err == nil {
		t.Fatal("expected error for path outside working directory")
	}
	if err := writeJSONReport(".", report{}); err == nil {
		t.Fatal("expected error for directory path")
	}
}
