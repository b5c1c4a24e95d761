// Package idempotency чистит просроченные ключи Idempotency-Key, которыми защищён POST /orders.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bazaar/internal/domain"
)

const (
	defaultCleanupInterval  = 10 * time.Minute
	defaultCleanupBatchSize = 500
	// defaultMaxBatchesPerRun ограничивает один проход, чтобы очистка не держала базу
	// дольше одного интервала. Остаток уйдёт в следующий проход.
	defaultMaxBatchesPerRun = 200
)

var (
	cleanupRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bazaar_idempotency_cleanup_runs_total",
		Help: "Idempotency cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bazaar_idempotency_cleanup_deleted_total",
		Help: "Expired idempotency keys deleted by cleanup.",
	})
	cleanupRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bazaar_idempotency_cleanup_duration_seconds",
		Help:    "Duration of one idempotency cleanup run.",
		Buckets: prometheus.DefBuckets,
	})
)

// CleanupOptions задаёт параметры CleanupWorker.
type CleanupOptions struct {
	Logger           *log.Entry
	Interval         time.Duration
	BatchSize        int
	MaxBatchesPerRun int
	Clock            func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

// WithInterval задаёт паузу между проходами.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithMaxBatchesPerRun ограничивает число удалений за проход.
func WithMaxBatchesPerRun(n int) CleanupOption {
	return func(opts *CleanupOptions) { opts.MaxBatchesPerRun = n }
}

// WithClock подменяет часы, от которых отсчитывается срок жизни ключей.
func WithClock(clock func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) { opts.Clock = clock }
}

// Report итог одного прохода очистки.
type Report struct {
	Deleted int
	Batches int
	// Truncated означает, что проход упёрся в MaxBatchesPerRun и просроченные ключи ещё остались.
	Truncated bool
}

// CleanupWorker периодически удаляет просроченные ключи идемпотентности.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:         defaultCleanupInterval,
		BatchSize:        defaultCleanupBatchSize,
		MaxBatchesPerRun: defaultMaxBatchesPerRun,
	}
	for _, option := range options {
		option(&opts)
	}

	w := &CleanupWorker{
		repo:       repo,
		logger:     opts.Logger,
		interval:   opts.Interval,
		batchSize:  opts.BatchSize,
		maxBatches: opts.MaxBatchesPerRun,
		now:        opts.Clock,
	}
	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup")
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	if w.maxBatches <= 0 {
		w.maxBatches = defaultMaxBatchesPerRun
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w
}

// Run выполняет проход сразу и затем каждые interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repository is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	started := time.Now()
	report, err := w.Sweep(ctx)
	cleanupRunDuration.Observe(time.Since(started).Seconds())

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		cleanupRunsTotal.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", report.Deleted).Warn("idempotency cleanup run failed")
		return
	}

	cleanupRunsTotal.WithLabelValues("ok").Inc()
	if report.Deleted > 0 {
		w.logger.WithFields(log.Fields{
			"deleted":   report.Deleted,
			"batches":   report.Batches,
			"truncated": report.Truncated,
		}).Info("expired idempotency keys removed")
	}
}

// Sweep удаляет ключи, чей срок истёк к текущему моменту, порциями batchSize.
// Граница фиксируется в начале прохода: ключи, истёкшие во время прохода, ждут следующего.
func (w *CleanupWorker) Sweep(ctx context.Context) (Report, error) {
	before := w.now()

	var report Report
	for report.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Deleted += deleted
		cleanupDeletedTotal.Add(float64(deleted))

		if deleted < w.batchSize {
			return report, nil
		}
	}
	report.Truncated = true
	return report, nil
}
