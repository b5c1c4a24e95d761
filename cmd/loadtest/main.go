// Команда loadtest проверяет расчёт сделок под конкуренцией: на каждое новое
// предложение одновременно претендуют несколько покупателей, и ровно один должен его получить.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
	defaultCamp          = "OLD_CAMP"
	scenarioMethod       = "scenario"
	codeTransportError   = "transport_error"
)

type config struct {
	baseURL     string
	offers      int
	buyers      int
	concurrency int
	rps         float64
	timeout     time.Duration
	courierID   int64
	adminUser   string
	runTag      string
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type methodReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time               `json:"started_at"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	TotalScenarios    int64                   `json:"total_scenarios"`
	SuccessScenarios  int64                   `json:"success_scenarios"`
	FailedScenarios   int64                   `json:"failed_scenarios"`
	ErrorRate         float64                 `json:"error_rate"`
	RPS               float64                 `json:"rps"`
	ScenarioLatencyMs latencySummary          `json:"scenario_latency_ms"`
	Methods           map[string]methodReport `json:"methods"`
}

type methodStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

// collector собирает статистику по вызовам; ok решает вызывающий, код хранится как есть.
type collector struct {
	mu      sync.Mutex
	methods map[string]*methodStats
}

func newCollector() *collector {
	return &collector{methods: make(map[string]*methodStats)}
}

func (c *collector) record(method string, latency time.Duration, code string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, found := c.methods[method]
	if !found {
		stats = &methodStats{codes: make(map[string]int64)}
		c.methods[method] = stats
	}

	stats.calls++
	if ok {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[code]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Methods:         make(map[string]methodReport, len(c.methods)),
	}

	for name, stats := range c.methods {
		codes := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codes[code] = count
		}
		result.Methods[name] = methodReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codes,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	if scenario, ok := result.Methods[scenarioMethod]; ok {
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}
	return result
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var cfg config

	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "market HTTP API base URL")
	fs.IntVar(&cfg.offers, "offers", 50, "number of contested offers")
	fs.IntVar(&cfg.buyers, "buyers", 8, "number of buyers racing for each offer")
	fs.IntVar(&cfg.concurrency, "concurrency", 4, "number of offers contested in parallel")
	fs.Float64Var(&cfg.rps, "rps", 0, "client-side request rate limit (0 = unlimited)")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.Int64Var(&cfg.courierID, "courier-id", 0, "courier used by all orders")
	fs.StringVar(&cfg.adminUser, "admin-user", "", "courier admin used to create a courier when -courier-id is not set")
	fs.StringVar(&cfg.runTag, "run-tag", "", "prefix for generated user ids (default: unix time)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.runTag == "" {
		cfg.runTag = "lt" + strconv.FormatInt(time.Now().Unix(), 36)
	}

	var errs []error
	if cfg.baseURL == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if cfg.offers <= 0 {
		errs = append(errs, errors.New("offers must be > 0"))
	}
	if cfg.buyers < 2 {
		errs = append(errs, errors.New("buyers must be >= 2 to create contention"))
	}
	if cfg.concurrency <= 0 {
		errs = append(errs, errors.New("concurrency must be > 0"))
	}
	if cfg.rps < 0 {
		errs = append(errs, errors.New("rps must be >= 0"))
	}
	if cfg.timeout <= 0 {
		errs = append(errs, errors.New("timeout must be > 0"))
	}
	if cfg.courierID <= 0 && strings.TrimSpace(cfg.adminUser) == "" {
		errs = append(errs, errors.New("either courier-id or admin-user is required"))
	}
	return cfg, errors.Join(errs...)
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result, err := run(context.Background(), cfg, &http.Client{Timeout: cfg.timeout})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// run готовит продавца, покупателей и курьера, затем разыгрывает cfg.offers предложений.
func run(ctx context.Context, cfg config, httpClient *http.Client) (report, error) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.rps), max(1, int(cfg.rps)))
	}
	c := &client{baseURL: cfg.baseURL, http: httpClient, limiter: limiter, col: newCollector()}

	seller := cfg.runTag + "-seller"
	buyers := make([]string, cfg.buyers)
	for i := range buyers {
		buyers[i] = fmt.Sprintf("%s-buyer-%d", cfg.runTag, i)
	}

	courierID, err := c.ensureCourier(ctx, cfg)
	if err != nil {
		return report{}, err
	}
	for _, user := range append([]string{seller}, buyers...) {
		if err := c.ensureProfile(ctx, user); err != nil {
			return report{}, err
		}
	}

	startedAt := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := 0; i < cfg.offers; i++ {
		g.Go(func() error {
			c.contest(gctx, seller, buyers, courierID, i)
			return nil
		})
	}
	_ = g.Wait()

	return c.col.buildReport(startedAt, time.Since(startedAt)), nil
}

type client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	col     *collector
}

// contest выставляет предложение и запускает гонку покупателей.
// Сценарий успешен, когда ровно один заказ создан, а остальные получили 409.
func (c *client) contest(ctx context.Context, seller string, buyers []string, courierID int64, index int) {
	start := time.Now()
	ok := false
	defer func() {
		code := "lost_update"
		if ok {
			code = "ok"
		}
		c.col.record(scenarioMethod, time.Since(start), code, ok)
	}()

	var offer struct {
		ID int64 `json:"id"`
	}
	status, err := c.call(ctx, "CreateOffer", http.MethodPost, "/api/v1/offers", seller, "", map[string]any{
		"title":    fmt.Sprintf("Load lot %d", index),
		"price":    1 + index%999,
		"quantity": 1,
	}, &offer)
	if err != nil || status != http.StatusCreated {
		return
	}

	statuses := make([]int, len(buyers))
	var wg sync.WaitGroup
	for i, buyer := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i], _ = c.call(ctx, "CreateOrder", http.MethodPost, "/api/v1/orders", buyer,
				fmt.Sprintf("offer-%d", offer.ID),
				map[string]any{"offerId": offer.ID, "courierId": courierID}, nil)
		}()
	}
	wg.Wait()

	ok = settledOnce(statuses)
}

// settledOnce проверяет исход гонки за одно предложение.
func settledOnce(statuses []int) bool {
	created := 0
	for _, status := range statuses {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
		default:
			return false
		}
	}
	return created == 1
}

func (c *client) ensureProfile(ctx context.Context, user string) error {
	status, err := c.call(ctx, "CreateProfile", http.MethodPost, "/api/v1/profiles", user, "", map[string]any{
		"name": "Load " + user,
		"camp": defaultCamp,
	}, nil)
	if err != nil {
		return fmt.Errorf("create profile %s: %w", user, err)
	}
	if status != http.StatusCreated && status != http.StatusConflict {
		return fmt.Errorf("create profile %s: unexpected status %d", user, status)
	}
	return nil
}

func (c *client) ensureCourier(ctx context.Context, cfg config) (int64, error) {
	if cfg.courierID > 0 {
		return cfg.courierID, nil
	}

	var courier struct {
		ID int64 `json:"id"`
	}
	name := "LT courier " + cfg.runTag
	if len(name) > 20 {
		name = name[:20]
	}
	status, err := c.call(ctx, "CreateCourier", http.MethodPost, "/api/v1/couriers", cfg.adminUser, "", map[string]any{
		"name": name,
		"camp": defaultCamp,
	}, &courier)
	if err != nil {
		return 0, fmt.Errorf("create courier: %w", err)
	}
	if status != http.StatusCreated {
		return 0, fmt.Errorf("create courier: unexpected status %d", status)
	}
	return courier.ID, nil
}

// call выполняет запрос и записывает его в статистику; 2xx и 409 считаются штатными ответами.
func (c *client) call(ctx context.Context, method, httpMethod, path, user, idemKey string, body, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, httpMethod, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerUserID, user)
	if idemKey != "" {
		req.Header.Set(headerIdempotencyKey, idemKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.col.record(method, time.Since(start), codeTransportError, false)
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		err = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	expected := resp.StatusCode < http.StatusMultipleChoices || resp.StatusCode == http.StatusConflict
	c.col.record(method, time.Since(start), strconv.Itoa(resp.StatusCode), expected && err == nil)
	return resp.StatusCode, err
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- path is an explicit CLI output parameter for local load-test reports.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Settlement contention summary")
	_, _ = fmt.Fprintf(w, "offers=%d buyers=%d settled=%d failed=%d error_rate=%.4f\n",
		cfg.offers, cfg.buyers, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", result.DurationSeconds, result.RPS)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Methods))
	for name := range result.Methods {
		if name != scenarioMethod {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		stats := result.Methods[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d p95=%.2fms codes=%v\n",
			name, stats.Calls, stats.Success, stats.Failed, stats.LatencyMs.P95, stats.Codes)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, value := range sorted {
		sum += value
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}

func ratio(failed, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
