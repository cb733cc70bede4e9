package httptransport

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"authhub/internal/platform/middleware"
	"authhub/pkg/platform/httputil"
)

const defaultDeadLetterLimit = 50

type outboxStatsResponse struct {
	Pending    int64 `json:"pending"`
	Published  int64 `json:"published"`
	DeadLetter int64 `json:"deadLetter"`
}

type outboxDeadLetterItem struct {
	OutboxEventID int64     `json:"outboxEventId"`
	EventID       uuid.UUID `json:"eventId"`
	EventType     string    `json:"eventType"`
	FailureReason string    `json:"failureReason"`
	FailedAt      time.Time `json:"failedAt"`
}

type outboxDeadLettersResponse struct {
	DeadLetters []outboxDeadLetterItem `json:"deadLetters"`
}

type outboxRequeueResponse struct {
	Requeued int `json:"requeued"`
}

// HandleOutboxStats handles GET /v1/operations/outbox.
func (h *Handler) HandleOutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.relay.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outboxStatsResponse{
		Pending:    stats.Pending,
		Published:  stats.Published,
		DeadLetter: stats.DeadLetter,
	})
}

// HandleOutboxProcess handles POST /v1/operations/outbox/process: an
// on-demand relay pass alongside the background ticker.
func (h *Handler) HandleOutboxProcess(w http.ResponseWriter, r *http.Request) {
	result, err := h.relay.ProcessPending(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleOutboxDeadLetters handles GET /v1/operations/outbox/dead-letters.
func (h *Handler) HandleOutboxDeadLetters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entries, err := h.relay.DeadLetters(ctx, middleware.GetTenantID(ctx), limitParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items := make([]outboxDeadLetterItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, outboxDeadLetterItem{
			OutboxEventID: e.OutboxRowID,
			EventID:       e.EventID,
			EventType:     e.EventType,
			FailureReason: e.FailureReason,
			FailedAt:      e.FailedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, outboxDeadLettersResponse{DeadLetters: items})
}

// HandleOutboxRequeue handles POST /v1/operations/outbox/dead-letters/requeue.
func (h *Handler) HandleOutboxRequeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requeued, err := h.relay.RequeueDeadLetters(ctx,
		middleware.GetTenantID(ctx), middleware.GetCorrelationID(ctx), limitParam(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, outboxRequeueResponse{Requeued: requeued})
}

func limitParam(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return defaultDeadLetterLimit
}
