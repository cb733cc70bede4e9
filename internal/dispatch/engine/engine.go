// Package engine drives operator dispatches: it classifies the target
// operator, selects the adapter for that classification, performs the initial
// send, and owns the polling retry/backoff/dead-letter state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"authhub/internal/authorization"
	"authhub/internal/dispatch"
	"authhub/internal/dispatch/adapters"
	"authhub/internal/platform/metrics"
)

// Error codes recorded on dispatches that fail technically.
const (
	ErrCodeAdapterNotFound = "ADAPTER_NOT_FOUND"
	ErrCodeDispatchError   = "DISPATCH_ERROR"
	ErrCodePollError       = "POLL_ERROR"
)

// Config carries the poll retry policy. BackoffDelays is indexed by attempt
// number and clamped to its last entry for deeper attempts; MaxPollAttempts
// bounds the lineage before dead-lettering.
type Config struct {
	MaxPollAttempts int
	BackoffDelays   []time.Duration
}

// DefaultConfig mirrors the production retry table.
func DefaultConfig() Config {
	return Config{
		MaxPollAttempts: 5,
		BackoffDelays: []time.Duration{
			5 * time.Second,
			15 * time.Second,
			45 * time.Second,
			120 * time.Second,
			300 * time.Second,
		},
	}
}

// PollResult is the explicit outcome of one poll. Exactly one of Observation
// (the adapter answered) and Failure (the adapter errored) is set.
type PollResult struct {
	Dispatch    dispatch.OperatorDispatch
	Observation *adapters.PollObservation
	Failure     *PollFailure
}

// PollFailure describes a failed poll and what the engine did about it.
type PollFailure struct {
	ErrorCode         string
	ErrorMessage      string
	MovedToDeadLetter bool
	NextAttemptAt     *time.Time
}

// Engine is stateless over its configuration and adapter registry; the
// dispatch store is supplied per call so the engine joins the caller's
// transactional boundary.
type Engine struct {
	classifier *Classifier
	registry   *adapters.Registry
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithMetrics records per-dispatch counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func New(classifier *Classifier, registry *adapters.Registry, cfg Config, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if cfg.MaxPollAttempts <= 0 {
		return nil, fmt.Errorf("max poll attempts must be positive")
	}
	if len(cfg.BackoffDelays) == 0 {
		return nil, fmt.Errorf("backoff delay table must not be empty")
	}
	e := &Engine{
		classifier: classifier,
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RequestDispatch classifies the authorization's operator, persists a READY
// dispatch row, and performs the initial send. Send failures are recorded on
// the returned dispatch as TECHNICAL_ERROR; only store failures surface as
// errors.
func (e *Engine) RequestDispatch(ctx context.Context, store dispatch.Store, auth authorization.Authorization) (dispatch.OperatorDispatch, error) {
	now := e.clock().UTC()
	d := dispatch.OperatorDispatch{
		ID:              uuid.New(),
		TenantID:        auth.TenantID,
		AuthorizationID: auth.ID,
		OperatorCode:    auth.OperatorCode,
		Type:            e.classifier.Classify(auth.OperatorCode),
		TechnicalStatus: dispatch.StatusReady,
		AttemptCount:    0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.Insert(ctx, d); err != nil {
		return d, err
	}

	adapter, ok := e.registry.Lookup(d.Type)
	if !ok {
		return e.failSend(ctx, store, d, ErrCodeAdapterNotFound,
			fmt.Sprintf("no adapter registered for %s", d.Type))
	}

	result, err := adapter.Send(ctx, d)
	if err != nil {
		return e.failSend(ctx, store, d, ErrCodeDispatchError, err.Error())
	}

	now = e.clock().UTC()
	d.TechnicalStatus = result.TechnicalStatus
	d.AttemptCount = 1
	d.ExternalProtocol = result.ExternalProtocol
	d.SentAt = &now
	d.UpdatedAt = now
	switch result.TechnicalStatus {
	case dispatch.StatusAckReceived:
		d.AckAt = &now
	case dispatch.StatusCompleted:
		d.CompletedAt = &now
	}
	if err := store.Update(ctx, d); err != nil {
		return d, err
	}

	if e.metrics != nil {
		e.metrics.DispatchesSent.WithLabelValues(string(d.Type), string(d.TechnicalStatus)).Inc()
	}
	if e.logger != nil {
		e.logger.InfoContext(ctx, "dispatch sent",
			"dispatch_id", d.ID,
			"tenant_id", d.TenantID,
			"dispatch_type", d.Type,
			"technical_status", d.TechnicalStatus,
		)
	}
	return d, nil
}

func (e *Engine) failSend(ctx context.Context, store dispatch.Store, d dispatch.OperatorDispatch, code, message string) (dispatch.OperatorDispatch, error) {
	now := e.clock().UTC()
	d.TechnicalStatus = dispatch.StatusTechnicalError
	d.AttemptCount = 1
	d.LastErrorCode = &code
	d.LastErrorMessage = &message
	d.UpdatedAt = now
	if err := store.Update(ctx, d); err != nil {
		return d, err
	}
	if e.metrics != nil {
		e.metrics.DispatchesSent.WithLabelValues(string(d.Type), string(d.TechnicalStatus)).Inc()
	}
	if e.logger != nil {
		e.logger.WarnContext(ctx, "dispatch send failed",
			"dispatch_id", d.ID,
			"tenant_id", d.TenantID,
			"error_code", code,
			"error_message", message,
		)
	}
	return d, nil
}

// PollDispatch performs one status inquiry. A missing adapter or an adapter
// without polling support is a configuration error, not a retryable failure.
// Adapter failures increment the attempt count, schedule the next attempt
// from the backoff table, and move the lineage to DLQ once the configured
// maximum is reached.
func (e *Engine) PollDispatch(ctx context.Context, store dispatch.Store, d dispatch.OperatorDispatch) (PollResult, error) {
	adapter, ok := e.registry.Lookup(d.Type)
	if !ok {
		return PollResult{}, fmt.Errorf("no adapter registered for %s", d.Type)
	}
	poller, ok := adapter.(adapters.Poller)
	if !ok {
		return PollResult{}, fmt.Errorf("adapter for %s does not support polling", d.Type)
	}

	observation, err := poller.Poll(ctx, d)
	if err != nil {
		return e.failPoll(ctx, store, d, err)
	}

	now := e.clock().UTC()
	switch observation.Status {
	case adapters.ExternalPending:
		d.TechnicalStatus = dispatch.StatusPolling
	default:
		d.TechnicalStatus = dispatch.StatusCompleted
		d.CompletedAt = &now
	}
	if observation.OperatorReference != nil {
		d.ExternalProtocol = observation.OperatorReference
	}
	d.UpdatedAt = now
	if err := store.Update(ctx, d); err != nil {
		return PollResult{}, err
	}
	return PollResult{Dispatch: d, Observation: &observation}, nil
}

func (e *Engine) failPoll(ctx context.Context, store dispatch.Store, d dispatch.OperatorDispatch, pollErr error) (PollResult, error) {
	now := e.clock().UTC()
	code := ErrCodePollError
	message := pollErr.Error()

	d.AttemptCount++
	d.LastErrorCode = &code
	d.LastErrorMessage = &message
	d.UpdatedAt = now

	failure := PollFailure{ErrorCode: code, ErrorMessage: message}
	if d.AttemptCount >= e.cfg.MaxPollAttempts {
		d.TechnicalStatus = dispatch.StatusDLQ
		d.NextAttemptAt = nil
		failure.MovedToDeadLetter = true
	} else {
		// The lineage stays pollable until the attempt budget runs out.
		next := now.Add(e.backoffDelay(d.AttemptCount))
		d.TechnicalStatus = dispatch.StatusPolling
		d.NextAttemptAt = &next
		failure.NextAttemptAt = &next
	}

	if err := store.Update(ctx, d); err != nil {
		return PollResult{}, err
	}
	if e.logger != nil {
		e.logger.WarnContext(ctx, "dispatch poll failed",
			"dispatch_id", d.ID,
			"tenant_id", d.TenantID,
			"attempt", d.AttemptCount,
			"dead_lettered", failure.MovedToDeadLetter,
		)
	}
	return PollResult{Dispatch: d, Failure: &failure}, nil
}

// backoffDelay returns the delay for the given attempt number, clamped to the
// last table entry.
func (e *Engine) backoffDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(e.cfg.BackoffDelays) {
		idx = len(e.cfg.BackoffDelays) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return e.cfg.BackoffDelays[idx]
}
