package httptransport

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"authhub/internal/authorization"
	"authhub/internal/authorization/service"
	"authhub/internal/platform/middleware"
	dErrors "authhub/pkg/domain-errors"
	"authhub/pkg/platform/httputil"
)

type createAuthorizationRequest struct {
	PatientID             string   `json:"patientId"`
	OperatorCode          string   `json:"operatorCode"`
	ProcedureCodes        []string `json:"procedureCodes"`
	ClinicalJustification string   `json:"clinicalJustification"`
}

type cancelAuthorizationRequest struct {
	Reason string `json:"reason"`
}

type authorizationResponse struct {
	AuthorizationID  uuid.UUID `json:"authorizationId"`
	TenantID         uuid.UUID `json:"tenantId"`
	Status           string    `json:"status"`
	OperatorCode     string    `json:"operatorCode"`
	OperatorProtocol *string   `json:"operatorProtocol"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func (h *Handler) authorizationResponse(r *http.Request, auth authorization.Authorization) authorizationResponse {
	protocol, err := h.service.OperatorProtocol(r.Context(), auth.TenantID, auth.ID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to resolve operator protocol",
			"authorization_id", auth.ID, "error", err)
	}
	return authorizationResponse{
		AuthorizationID:  auth.ID,
		TenantID:         auth.TenantID,
		Status:           string(auth.Status),
		OperatorCode:     auth.OperatorCode,
		OperatorProtocol: protocol,
		CreatedAt:        auth.CreatedAt,
		UpdatedAt:        auth.UpdatedAt,
	}
}

// HandleCreate handles POST /v1/authorizations. A replayed idempotency key
// answers 200 with the original authorization; a fresh command answers 201.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if idempotencyKey == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "X-Idempotency-Key header is required"))
		return
	}

	req, ok := httputil.DecodeJSON[createAuthorizationRequest](w, r, h.logger)
	if !ok {
		return
	}
	if err := validateCreateRequest(req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	codes := make([]string, len(req.ProcedureCodes))
	for i, c := range req.ProcedureCodes {
		codes[i] = strings.TrimSpace(c)
	}

	result, err := h.service.Create(ctx, service.CreateCommand{
		TenantID:              middleware.GetTenantID(ctx),
		CorrelationID:         middleware.GetCorrelationID(ctx),
		IdempotencyKey:        idempotencyKey,
		PatientID:             strings.TrimSpace(req.PatientID),
		OperatorCode:          strings.TrimSpace(req.OperatorCode),
		ProcedureCodes:        codes,
		ClinicalJustification: strings.TrimSpace(req.ClinicalJustification),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "create authorization failed",
			"request_id", middleware.GetRequestID(ctx),
			"tenant_id", middleware.GetTenantID(ctx),
			"error", err,
		)
		if dErrors.HasCode(err, dErrors.CodeIdempotencyConflict) && h.metrics != nil {
			h.metrics.IdempotencyConflicts.Inc()
		}
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	if h.metrics != nil {
		if result.Replayed {
			h.metrics.AuthorizationsReplayed.Inc()
		} else {
			h.metrics.AuthorizationsCreated.Inc()
		}
	}
	httputil.WriteJSON(w, status, h.authorizationResponse(r, result.Authorization))
}

// HandleGetByID handles GET /v1/authorizations/{authorizationID}.
func (h *Handler) HandleGetByID(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authorizationID, ok := parseAuthorizationID(w, r)
	if !ok {
		return
	}

	auth, err := h.service.GetByID(ctx, middleware.GetTenantID(ctx), authorizationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if auth == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "authorization not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.authorizationResponse(r, *auth))
}

// HandleGetStatus handles GET /v1/authorizations/{authorizationID}/status.
func (h *Handler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authorizationID, ok := parseAuthorizationID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetStatus(ctx, middleware.GetTenantID(ctx), authorizationID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandlePoll handles POST /v1/authorizations/{authorizationID}/poll.
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authorizationID, ok := parseAuthorizationID(w, r)
	if !ok {
		return
	}

	auth, err := h.service.PollStatus(ctx, service.PollCommand{
		TenantID:        middleware.GetTenantID(ctx),
		CorrelationID:   middleware.GetCorrelationID(ctx),
		AuthorizationID: authorizationID,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.PollOutcomes.WithLabelValues(string(auth.Status)).Inc()
	}
	httputil.WriteJSON(w, http.StatusOK, h.authorizationResponse(r, auth))
}

// HandleCancel handles POST /v1/authorizations/{authorizationID}/cancel.
// Cancelling a terminal authorization answers 409.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authorizationID, ok := parseAuthorizationID(w, r)
	if !ok {
		return
	}

	req, ok := httputil.DecodeJSON[cancelAuthorizationRequest](w, r, h.logger)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "reason is required"))
		return
	}

	auth, err := h.service.Cancel(ctx, service.CancelCommand{
		TenantID:        middleware.GetTenantID(ctx),
		CorrelationID:   middleware.GetCorrelationID(ctx),
		AuthorizationID: authorizationID,
		Reason:          strings.TrimSpace(req.Reason),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.authorizationResponse(r, auth))
}

func parseAuthorizationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "authorizationID"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "authorizationID must be a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}

func validateCreateRequest(req createAuthorizationRequest) error {
	if strings.TrimSpace(req.PatientID) == "" {
		return dErrors.New(dErrors.CodeValidation, "patientId is required")
	}
	if strings.TrimSpace(req.OperatorCode) == "" {
		return dErrors.New(dErrors.CodeValidation, "operatorCode is required")
	}
	if len(req.ProcedureCodes) == 0 {
		return dErrors.New(dErrors.CodeValidation, "procedureCodes must contain at least one valid code")
	}
	for _, code := range req.ProcedureCodes {
		if strings.TrimSpace(code) == "" {
			return dErrors.New(dErrors.CodeValidation, "procedureCodes must contain at least one valid code")
		}
	}
	if strings.TrimSpace(req.ClinicalJustification) == "" {
		return dErrors.New(dErrors.CodeValidation, "clinicalJustification is required")
	}
	return nil
}
