package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"authhub/internal/events"
)

// Store is the outbox persistence contract.
//
// Append is atomic: the event row, its audit trail row, and (for business
// events) the EVT-016 audit shadow commit or roll back together with
// whatever transaction the caller carries in ctx.
type Store interface {
	Append(ctx context.Context, aggregateType string, aggregateID uuid.UUID, event events.Event) error

	// FindTimeline returns the aggregate's events ordered by occurrence.
	FindTimeline(ctx context.Context, tenantID uuid.UUID, aggregateType string, aggregateID uuid.UUID) ([]TimelineEntry, error)

	// FindPending returns up to limit events with no delivery resolution
	// whose next attempt is due at now.
	FindPending(ctx context.Context, limit int, now time.Time) ([]Event, error)

	MarkPublished(ctx context.Context, rowID int64, at time.Time) error

	// MarkFailure records a publish failure. Once the attempt count reaches
	// maxAttempts the event is dead-lettered (and copied to the dead-letter
	// table) and the call reports movedToDeadLetter; otherwise the retry is
	// scheduled for nextAttemptAt.
	MarkFailure(ctx context.Context, event Event, reason string, maxAttempts int, nextAttemptAt time.Time) (movedToDeadLetter bool, err error)

	Stats(ctx context.Context) (Stats, error)

	FindDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int) ([]DeadLetterEntry, error)

	// RequeueDeadLetters clears delivery state on up to limit dead-lettered
	// events of the tenant, deletes their dead-letter rows, and returns how
	// many were requeued.
	RequeueDeadLetters(ctx context.Context, tenantID uuid.UUID, limit int) (int, error)
}
