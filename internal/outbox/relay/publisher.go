package relay

import (
	"context"
	"fmt"
	"log/slog"

	"authhub/internal/outbox"
)

// Publisher delivers one outbox event to the downstream transport. A nil
// error marks the event published; any error counts against the event's
// delivery budget.
type Publisher interface {
	Publish(ctx context.Context, event outbox.Event) error
}

// LoggingPublisher writes events to the structured log instead of a broker.
// It backs local development and tests; failEventTypes injects deterministic
// publish failures for retry and dead-letter coverage.
type LoggingPublisher struct {
	logger         *slog.Logger
	failEventTypes map[string]struct{}
}

type LoggingOption func(*LoggingPublisher)

// WithFailingEventTypes makes Publish fail for the given event types.
func WithFailingEventTypes(eventTypes ...string) LoggingOption {
	return func(p *LoggingPublisher) {
		for _, et := range eventTypes {
			p.failEventTypes[et] = struct{}{}
		}
	}
}

func NewLoggingPublisher(logger *slog.Logger, opts ...LoggingOption) *LoggingPublisher {
	p := &LoggingPublisher{
		logger:         logger,
		failEventTypes: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *LoggingPublisher) Publish(ctx context.Context, event outbox.Event) error {
	if _, fail := p.failEventTypes[event.EventType]; fail {
		return fmt.Errorf("publish %s: injected failure", event.EventType)
	}
	p.logger.InfoContext(ctx, "outbox event published",
		"event_id", event.EventID,
		"event_type", event.EventType,
		"tenant_id", event.TenantID,
		"aggregate_type", event.AggregateType,
		"aggregate_id", event.AggregateID,
		"correlation_id", event.CorrelationID,
	)
	return nil
}
