// Package relay drains the transactional outbox: it scans pending events,
// hands them to a Publisher, schedules retries with bounded backoff, and
// moves events that exhaust their budget to the dead-letter table.
package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"authhub/internal/events"
	"authhub/internal/outbox"
	"authhub/internal/platform/metrics"
)

const (
	defaultBatchSize   = 100
	defaultTick        = 10 * time.Second
	maxDeadLetterLimit = 200
)

// DefaultPublishDelays is the retry schedule between publish attempts. The
// delivery budget is one initial attempt plus one retry per delay.
func DefaultPublishDelays() []time.Duration {
	return []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second, 2 * time.Minute, 5 * time.Minute}
}

// Result summarizes one relay pass over the pending set.
type Result struct {
	Scanned      int `json:"scanned"`
	Published    int `json:"published"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"deadLettered"`
}

// Relay owns the outbox draining loop. ProcessPending is serialized by an
// internal mutex so the background ticker and the operational trigger
// endpoint never scan the same batch concurrently.
type Relay struct {
	store     outbox.Store
	publisher Publisher
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *metrics.Metrics

	batchSize int
	tick      time.Duration
	delays    []time.Duration
	now       func() time.Time

	mu sync.Mutex
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithTick(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.tick = d
		}
	}
}

func WithPublishDelays(delays []time.Duration) Option {
	return func(r *Relay) {
		if len(delays) > 0 {
			r.delays = delays
		}
	}
}

// WithClock overrides the time source. Tests use it to drive retry windows.
func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// WithMetrics records delivery counters and the pending gauge on each pass.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) { r.metrics = m }
}

func New(store outbox.Store, publisher Publisher, logger *slog.Logger, opts ...Option) *Relay {
	r := &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("authhub/outbox/relay"),
		batchSize: defaultBatchSize,
		tick:      defaultTick,
		delays:    DefaultPublishDelays(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// MaxAttempts is the total delivery budget per event.
func (r *Relay) MaxAttempts() int {
	return len(r.delays) + 1
}

// Run drives the relay until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "outbox relay started", "tick", r.tick.String(), "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ProcessPending(ctx); err != nil {
				r.logger.ErrorContext(ctx, "outbox relay pass failed", "error", err)
			}
		}
	}
}

// ProcessPending publishes one batch of due events and returns the pass
// counters. Failures never abort the pass; each event settles independently.
func (r *Relay) ProcessPending(ctx context.Context) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "outbox.process_pending")
	defer span.End()

	now := r.now()
	pending, err := r.store.FindPending(ctx, r.batchSize, now)
	if err != nil {
		return Result{}, err
	}

	result := Result{Scanned: len(pending)}
	for _, event := range pending {
		if err := r.publisher.Publish(ctx, event); err != nil {
			result.Failed++
			if r.metrics != nil {
				r.metrics.OutboxPublishFailures.Inc()
			}
			moved, markErr := r.store.MarkFailure(ctx, event, err.Error(), r.MaxAttempts(), now.Add(r.backoffDelay(event.PublishAttempts+1)))
			if markErr != nil {
				r.logger.ErrorContext(ctx, "outbox failure bookkeeping failed",
					"event_id", event.EventID, "error", markErr)
				continue
			}
			if moved {
				result.DeadLettered++
				if r.metrics != nil {
					r.metrics.OutboxDeadLettered.Inc()
				}
				r.logger.WarnContext(ctx, "outbox event dead-lettered",
					"event_id", event.EventID,
					"event_type", event.EventType,
					"attempts", event.PublishAttempts+1,
					"error", err)
			} else {
				r.logger.WarnContext(ctx, "outbox publish failed, retry scheduled",
					"event_id", event.EventID,
					"event_type", event.EventType,
					"attempt", event.PublishAttempts+1,
					"error", err)
			}
			continue
		}
		if err := r.store.MarkPublished(ctx, event.RowID, r.now()); err != nil {
			r.logger.ErrorContext(ctx, "mark published failed", "event_id", event.EventID, "error", err)
			result.Failed++
			continue
		}
		result.Published++
		if r.metrics != nil {
			r.metrics.OutboxPublished.Inc()
		}
	}

	if r.metrics != nil {
		if stats, err := r.store.Stats(ctx); err == nil {
			r.metrics.OutboxPending.Set(float64(stats.Pending))
		}
	}

	span.SetAttributes(
		attribute.Int("outbox.scanned", result.Scanned),
		attribute.Int("outbox.published", result.Published),
		attribute.Int("outbox.failed", result.Failed),
		attribute.Int("outbox.dead_lettered", result.DeadLettered),
	)
	return result, nil
}

// backoffDelay maps an attempt count to the wait before the next attempt.
// Attempts past the table reuse the last delay.
func (r *Relay) backoffDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.delays) {
		idx = len(r.delays) - 1
	}
	return r.delays[idx]
}

// Stats reports the outbox delivery counters.
func (r *Relay) Stats(ctx context.Context) (outbox.Stats, error) {
	return r.store.Stats(ctx)
}

// DeadLetters lists a tenant's dead-lettered events. The limit is clamped
// to [1, 200].
func (r *Relay) DeadLetters(ctx context.Context, tenantID uuid.UUID, limit int) ([]outbox.DeadLetterEntry, error) {
	return r.store.FindDeadLetters(ctx, tenantID, clampLimit(limit))
}

// RequeueDeadLetters returns dead-lettered events to the pending set and
// appends an audit record noting the operator action.
func (r *Relay) RequeueDeadLetters(ctx context.Context, tenantID, correlationID uuid.UUID, limit int) (int, error) {
	requeued, err := r.store.RequeueDeadLetters(ctx, tenantID, clampLimit(limit))
	if err != nil {
		return 0, err
	}
	if requeued == 0 {
		return 0, nil
	}

	notice := events.New(events.TypeAuditRecord, tenantID, correlationID, map[string]any{
		"action":        "DEAD_LETTER_REQUEUE",
		"requeuedCount": requeued,
	})
	if err := r.store.Append(ctx, events.AggregateAudit, notice.EventID, notice); err != nil {
		return requeued, err
	}
	return requeued, nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > maxDeadLetterLimit {
		return maxDeadLetterLimit
	}
	return limit
}
