// Package service implements the authorization orchestrator: the single
// entry point for create, poll and cancel commands. Every command runs as
// one atomic unit in which state transitions and their outbox events commit
// or roll back together.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"authhub/internal/authorization"
	"authhub/internal/dispatch"
	"authhub/internal/dispatch/engine"
	"authhub/internal/events"
	"authhub/internal/guide"
	"authhub/internal/idempotency"
	"authhub/internal/outbox"
	dErrors "authhub/pkg/domain-errors"
)

// TxRunner executes a unit of work atomically. Store calls made inside fn
// observe the same transactional boundary.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CreateCommand opens a new authorization. The idempotency key scopes the
// command to at-most-once effect per tenant.
type CreateCommand struct {
	TenantID              uuid.UUID
	CorrelationID         uuid.UUID
	IdempotencyKey        string
	PatientID             string
	OperatorCode          string
	ProcedureCodes        []string
	ClinicalJustification string
}

// PollCommand requests one operator status inquiry for an authorization.
type PollCommand struct {
	TenantID        uuid.UUID
	CorrelationID   uuid.UUID
	AuthorizationID uuid.UUID
}

// CancelCommand withdraws a non-terminal authorization.
type CancelCommand struct {
	TenantID        uuid.UUID
	CorrelationID   uuid.UUID
	AuthorizationID uuid.UUID
	Reason          string
}

// CreateResult carries the resulting authorization and whether it was
// replayed from the idempotency ledger rather than newly created.
type CreateResult struct {
	Authorization authorization.Authorization
	Replayed      bool
}

// Service orchestrates the authorization lifecycle.
type Service struct {
	runner     TxRunner
	auths      authorization.Store
	ledger     idempotency.Store
	outbox     outbox.Store
	dispatches dispatch.Store
	engine     *engine.Engine
	guides     guide.Generator
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(
	runner TxRunner,
	auths authorization.Store,
	ledger idempotency.Store,
	outboxStore outbox.Store,
	dispatches dispatch.Store,
	eng *engine.Engine,
	guides guide.Generator,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		runner:     runner,
		auths:      auths,
		ledger:     ledger,
		outbox:     outboxStore,
		dispatches: dispatches,
		engine:     eng,
		guides:     guides,
		logger:     logger,
		tracer:     otel.Tracer("authhub/authorization/service"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// errConflict aborts the create transaction; the conflict event is then
// recorded outside the rolled-back unit so it survives the failed command.
var errConflict = errors.New("idempotency conflict")

// Create runs the full create pipeline: idempotency claim, draft, business
// validation, guide generation, dispatch, and ledger resolution. A replayed
// key short-circuits to the stored authorization without side effects.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (CreateResult, error) {
	ctx, span := s.tracer.Start(ctx, "authorization.create")
	defer span.End()

	if err := cmd.validate(); err != nil {
		return CreateResult{}, err
	}
	requestHash := hashCreateRequest(cmd)

	var result CreateResult
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		existing, err := s.ledger.Find(ctx, cmd.TenantID, cmd.IdempotencyKey)
		if err != nil {
			return fmt.Errorf("lookup idempotency key: %w", err)
		}
		if existing == nil {
			if err := s.ledger.InsertPending(ctx, cmd.TenantID, cmd.IdempotencyKey, requestHash); err != nil {
				if errors.Is(err, idempotency.ErrDuplicateKey) {
					// Lost the claim race; re-read and settle against the winner.
					existing, err = s.ledger.Find(ctx, cmd.TenantID, cmd.IdempotencyKey)
					if err != nil {
						return fmt.Errorf("re-read idempotency key: %w", err)
					}
					if existing == nil {
						return dErrors.New(dErrors.CodeInternal, "idempotency record vanished after duplicate insert")
					}
					return s.settleExisting(ctx, cmd, requestHash, *existing, &result)
				}
				return fmt.Errorf("claim idempotency key: %w", err)
			}
			return s.runCreatePipeline(ctx, cmd, &result)
		}
		return s.settleExisting(ctx, cmd, requestHash, *existing, &result)
	})
	if errors.Is(err, errConflict) {
		return CreateResult{}, s.recordConflict(ctx, cmd)
	}
	if err != nil {
		return CreateResult{}, err
	}
	return result, nil
}

// settleExisting resolves a create that found its key already claimed.
func (s *Service) settleExisting(ctx context.Context, cmd CreateCommand, requestHash string, existing idempotency.Record, result *CreateResult) error {
	if existing.RequestHash != requestHash {
		return errConflict
	}
	if !existing.Resolved() {
		return dErrors.New(dErrors.CodeIdempotencyInProgress, "idempotency key is already being processed")
	}
	replayed, err := s.auths.FindByID(ctx, cmd.TenantID, *existing.AuthorizationID)
	if err != nil {
		return fmt.Errorf("load replayed authorization: %w", err)
	}
	if replayed == nil {
		return dErrors.New(dErrors.CodeInternal, "idempotency record references unknown authorization")
	}
	*result = CreateResult{Authorization: *replayed, Replayed: true}
	return nil
}

// recordConflict persists the conflict event in its own committed unit,
// after the create transaction rolled back, then surfaces the conflict.
func (s *Service) recordConflict(ctx context.Context, cmd CreateCommand) error {
	appendErr := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		event := events.New(events.TypeIdempotencyConflict, cmd.TenantID, cmd.CorrelationID, map[string]any{
			"idempotencyKey": cmd.IdempotencyKey,
			"detectedAt":     s.now().Format(time.RFC3339Nano),
		})
		return s.outbox.Append(ctx, events.AggregateIdempotency, uuid.New(), event)
	})
	if appendErr != nil {
		s.logger.ErrorContext(ctx, "failed to record idempotency conflict event",
			"tenant_id", cmd.TenantID, "idempotency_key", cmd.IdempotencyKey, "error", appendErr)
	}
	return dErrors.New(dErrors.CodeIdempotencyConflict, "idempotency key already used with a different payload")
}

func (s *Service) runCreatePipeline(ctx context.Context, cmd CreateCommand, result *CreateResult) error {
	now := s.now()
	draft := authorization.Authorization{
		ID:                    uuid.New(),
		TenantID:              cmd.TenantID,
		PatientID:             cmd.PatientID,
		OperatorCode:          cmd.OperatorCode,
		ProcedureCodes:        append([]string(nil), cmd.ProcedureCodes...),
		ClinicalJustification: cmd.ClinicalJustification,
		Status:                authorization.StatusDraft,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.auths.Insert(ctx, draft); err != nil {
		return fmt.Errorf("insert draft authorization: %w", err)
	}
	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, draft, events.TypeDraftCreated, map[string]any{
		"authorizationId": draft.ID.String(),
		"patientId":       draft.PatientID,
		"procedureCodes":  draft.ProcedureCodes,
	}); err != nil {
		return err
	}

	validated := draft.WithStatus(authorization.StatusValidated, s.now())
	if err := s.auths.UpdateStatus(ctx, validated); err != nil {
		return fmt.Errorf("mark authorization validated: %w", err)
	}
	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, validated, events.TypeValidated, map[string]any{
		"authorizationId":   validated.ID.String(),
		"validationSummary": "business-rules-ok",
	}); err != nil {
		return err
	}

	guideResult, err := s.guides.GenerateAndValidate(ctx, validated)
	if err != nil {
		return fmt.Errorf("generate tiss guide: %w", err)
	}
	if !guideResult.Valid {
		failed := validated.WithStatus(authorization.StatusFailedTechnical, s.now())
		if err := s.auths.UpdateStatus(ctx, failed); err != nil {
			return fmt.Errorf("mark authorization failed: %w", err)
		}
		report := "unknown-validation-error"
		if guideResult.Guide.ValidationReport != nil {
			report = *guideResult.Guide.ValidationReport
		}
		if err := s.appendAuthEvent(ctx, cmd.CorrelationID, failed, events.TypeGuideInvalid, map[string]any{
			"authorizationId": failed.ID.String(),
			"tissGuideId":     guideResult.Guide.ID.String(),
			"errors":          []string{report},
		}); err != nil {
			return err
		}
		if err := s.resolveLedger(ctx, cmd, failed); err != nil {
			return err
		}
		*result = CreateResult{Authorization: failed}
		return nil
	}

	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, validated, events.TypeGuideGenerated, map[string]any{
		"authorizationId": validated.ID.String(),
		"tissGuideId":     guideResult.Guide.ID.String(),
		"xmlHash":         guideResult.Guide.XMLHash,
		"tissVersion":     guideResult.Guide.TissVersion,
	}); err != nil {
		return err
	}

	d, err := s.engine.RequestDispatch(ctx, s.dispatches, validated)
	if err != nil {
		return fmt.Errorf("request dispatch: %w", err)
	}
	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, validated, events.TypeDispatchRequested, map[string]any{
		"authorizationId": validated.ID.String(),
		"operatorCode":    validated.OperatorCode,
		"dispatchType":    string(d.Type),
	}); err != nil {
		return err
	}

	if d.TechnicalStatus == dispatch.StatusTechnicalError {
		failed := validated.WithStatus(authorization.StatusFailedTechnical, s.now())
		if err := s.auths.UpdateStatus(ctx, failed); err != nil {
			return fmt.Errorf("mark authorization failed: %w", err)
		}
		if err := s.appendAuthEvent(ctx, cmd.CorrelationID, failed, events.TypeTechnicalError, map[string]any{
			"authorizationId": failed.ID.String(),
			"dispatchId":      d.ID.String(),
			"errorCode":       engine.ErrCodeDispatchError,
			"errorMessage":    "Dispatch adapter failed",
		}); err != nil {
			return err
		}
		if err := s.resolveLedger(ctx, cmd, failed); err != nil {
			return err
		}
		*result = CreateResult{Authorization: failed}
		return nil
	}

	sentAt := d.UpdatedAt
	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, validated, events.TypeDispatchSent, map[string]any{
		"authorizationId": validated.ID.String(),
		"dispatchId":      d.ID.String(),
		"attempt":         d.AttemptCount,
		"sentAt":          sentAt.Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}

	if d.TechnicalStatus == dispatch.StatusAckReceived {
		if err := s.appendAuthEvent(ctx, cmd.CorrelationID, validated, events.TypeAckReceived, map[string]any{
			"authorizationId":  validated.ID.String(),
			"dispatchId":       d.ID.String(),
			"externalProtocol": derefOr(d.ExternalProtocol, ""),
		}); err != nil {
			return err
		}
	}

	nextStatus := authorization.StatusDispatched
	if d.TechnicalStatus == dispatch.StatusPolling {
		nextStatus = authorization.StatusPendingOperator
	}
	final := validated.WithStatus(nextStatus, s.now())
	if err := s.auths.UpdateStatus(ctx, final); err != nil {
		return fmt.Errorf("mark authorization dispatched: %w", err)
	}

	if err := s.resolveLedger(ctx, cmd, final); err != nil {
		return err
	}
	*result = CreateResult{Authorization: final}
	return nil
}

// resolveLedger links the idempotency record to the command's outcome so
// replays return the same response.
func (s *Service) resolveLedger(ctx context.Context, cmd CreateCommand, auth authorization.Authorization) error {
	snapshot, err := json.Marshal(map[string]any{
		"authorizationId": auth.ID.String(),
		"status":          string(auth.Status),
	})
	if err != nil {
		return fmt.Errorf("marshal response snapshot: %w", err)
	}
	if err := s.ledger.Link(ctx, cmd.TenantID, cmd.IdempotencyKey, auth.ID, string(snapshot)); err != nil {
		return fmt.Errorf("resolve idempotency key: %w", err)
	}
	return nil
}

// GetByID returns the authorization or nil when absent.
func (s *Service) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*authorization.Authorization, error) {
	return s.auths.FindByID(ctx, tenantID, id)
}

func (s *Service) appendAuthEvent(ctx context.Context, correlationID uuid.UUID, auth authorization.Authorization, eventType string, payload map[string]any) error {
	event := events.New(eventType, auth.TenantID, correlationID, payload)
	if err := s.outbox.Append(ctx, events.AggregateAuthorization, auth.ID, event); err != nil {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}

func (c CreateCommand) validate() error {
	switch {
	case c.TenantID == uuid.Nil:
		return dErrors.New(dErrors.CodeValidation, "tenant id is required")
	case c.CorrelationID == uuid.Nil:
		return dErrors.New(dErrors.CodeValidation, "correlation id is required")
	case strings.TrimSpace(c.IdempotencyKey) == "":
		return dErrors.New(dErrors.CodeValidation, "idempotency key is required")
	case strings.TrimSpace(c.PatientID) == "":
		return dErrors.New(dErrors.CodeValidation, "patient id is required")
	case strings.TrimSpace(c.OperatorCode) == "":
		return dErrors.New(dErrors.CodeValidation, "operator code is required")
	}
	return nil
}

// hashCreateRequest fingerprints the business payload of a create command.
// Fields are trimmed so cosmetic whitespace differences replay instead of
// conflicting.
func hashCreateRequest(cmd CreateCommand) string {
	var b strings.Builder
	b.WriteString(cmd.TenantID.String())
	b.WriteByte('|')
	b.WriteString(strings.TrimSpace(cmd.PatientID))
	b.WriteByte('|')
	b.WriteString(strings.TrimSpace(cmd.OperatorCode))
	b.WriteByte('|')
	trimmed := make([]string, len(cmd.ProcedureCodes))
	for i, code := range cmd.ProcedureCodes {
		trimmed[i] = strings.TrimSpace(code)
	}
	b.WriteString(strings.Join(trimmed, ","))
	b.WriteByte('|')
	b.WriteString(strings.TrimSpace(cmd.ClinicalJustification))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
