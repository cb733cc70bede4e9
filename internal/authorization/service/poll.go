package service

import (
	"context"
	"time"

	"authhub/internal/authorization"
	adp "authhub/internal/dispatch/adapters"
	"authhub/internal/dispatch/engine"
	"authhub/internal/events"
	dErrors "authhub/pkg/domain-errors"
)

// PollStatus performs one operator status inquiry and folds the outcome into
// the authorization. Terminal authorizations and authorizations without a
// dispatch are returned unchanged.
func (s *Service) PollStatus(ctx context.Context, cmd PollCommand) (authorization.Authorization, error) {
	ctx, span := s.tracer.Start(ctx, "authorization.poll_status")
	defer span.End()

	var result authorization.Authorization
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.auths.FindByID(ctx, cmd.TenantID, cmd.AuthorizationID)
		if err != nil {
			return err
		}
		if current == nil {
			return dErrors.New(dErrors.CodeNotFound, "authorization not found")
		}
		if current.Status.IsTerminal() {
			result = *current
			return nil
		}

		latest, err := s.dispatches.FindLatestByAuthorization(ctx, cmd.TenantID, cmd.AuthorizationID)
		if err != nil {
			return err
		}
		if latest == nil {
			result = *current
			return nil
		}

		pollResult, err := s.engine.PollDispatch(ctx, s.dispatches, *latest)
		if err != nil {
			// Configuration faults (no adapter, no polling support) fail the
			// authorization outright rather than burning retry budget.
			failed := current.WithStatus(authorization.StatusFailedTechnical, s.now())
			if updErr := s.auths.UpdateStatus(ctx, failed); updErr != nil {
				return updErr
			}
			if evtErr := s.appendAuthEvent(ctx, cmd.CorrelationID, failed, events.TypeTechnicalError, map[string]any{
				"authorizationId": failed.ID.String(),
				"dispatchId":      latest.ID.String(),
				"errorCode":       engine.ErrCodePollError,
				"errorMessage":    err.Error(),
			}); evtErr != nil {
				return evtErr
			}
			result = failed
			return nil
		}

		if pollResult.Failure != nil {
			return s.applyPollFailure(ctx, cmd, *current, pollResult, &result)
		}
		return s.applyPollObservation(ctx, cmd, *current, pollResult, &result)
	})
	if err != nil {
		return authorization.Authorization{}, err
	}
	return result, nil
}

func (s *Service) applyPollFailure(ctx context.Context, cmd PollCommand, current authorization.Authorization, pollResult engine.PollResult, result *authorization.Authorization) error {
	d := pollResult.Dispatch
	failure := pollResult.Failure

	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, current, events.TypeTechnicalError, map[string]any{
		"authorizationId": current.ID.String(),
		"dispatchId":      d.ID.String(),
		"errorCode":       derefOr(d.LastErrorCode, engine.ErrCodePollError),
		"errorMessage":    derefOr(d.LastErrorMessage, "Operator polling failed"),
	}); err != nil {
		return err
	}

	if failure.MovedToDeadLetter {
		failed := current.WithStatus(authorization.StatusFailedTechnical, s.now())
		if err := s.auths.UpdateStatus(ctx, failed); err != nil {
			return err
		}
		if err := s.appendAuthEvent(ctx, cmd.CorrelationID, failed, events.TypeDispatchDeadLetter, map[string]any{
			"authorizationId": failed.ID.String(),
			"dispatchId":      d.ID.String(),
			"attempts":        d.AttemptCount,
			"lastErrorCode":   derefOr(d.LastErrorCode, engine.ErrCodePollError),
		}); err != nil {
			return err
		}
		*result = failed
		return nil
	}

	nextAttempt := s.now().Format(time.RFC3339Nano)
	if failure.NextAttemptAt != nil {
		nextAttempt = failure.NextAttemptAt.Format(time.RFC3339Nano)
	}
	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, current, events.TypePollRetryScheduled, map[string]any{
		"authorizationId": current.ID.String(),
		"dispatchId":      d.ID.String(),
		"nextAttemptAt":   nextAttempt,
	}); err != nil {
		return err
	}

	return s.ensurePendingOperator(ctx, current, result)
}

func (s *Service) applyPollObservation(ctx context.Context, cmd PollCommand, current authorization.Authorization, pollResult engine.PollResult, result *authorization.Authorization) error {
	d := pollResult.Dispatch
	obs := pollResult.Observation

	if err := s.appendAuthEvent(ctx, cmd.CorrelationID, current, events.TypePollObserved, map[string]any{
		"authorizationId": current.ID.String(),
		"dispatchId":      d.ID.String(),
		"externalStatus":  string(obs.Status),
	}); err != nil {
		return err
	}

	switch obs.Status {
	case adp.ExternalPending:
		return s.ensurePendingOperator(ctx, current, result)

	case adp.ExternalApproved:
		approved := current.WithStatus(authorization.StatusAuthorized, s.now())
		if err := s.auths.UpdateStatus(ctx, approved); err != nil {
			return err
		}
		if err := s.appendAuthEvent(ctx, cmd.CorrelationID, approved, events.TypeApproved, map[string]any{
			"authorizationId":   approved.ID.String(),
			"authorizedAt":      approved.UpdatedAt.Format(time.RFC3339Nano),
			"operatorReference": derefOr(obs.OperatorReference, ""),
		}); err != nil {
			return err
		}
		*result = approved
		return nil

	case adp.ExternalDenied:
		denied := current.WithStatus(authorization.StatusDenied, s.now())
		if err := s.auths.UpdateStatus(ctx, denied); err != nil {
			return err
		}
		if err := s.appendAuthEvent(ctx, cmd.CorrelationID, denied, events.TypeDenied, map[string]any{
			"authorizationId":  denied.ID.String(),
			"deniedAt":         denied.UpdatedAt.Format(time.RFC3339Nano),
			"denialReasonCode": derefOr(obs.DenialReasonCode, "UNSPECIFIED"),
			"denialReason":     derefOr(obs.DenialReason, "Denied by operator"),
		}); err != nil {
			return err
		}
		*result = denied
		return nil
	}

	*result = current
	return nil
}

// ensurePendingOperator moves the authorization to PENDING_OPERATOR unless
// it is already there. A redundant poll never rewrites an unchanged status.
func (s *Service) ensurePendingOperator(ctx context.Context, current authorization.Authorization, result *authorization.Authorization) error {
	if current.Status == authorization.StatusPendingOperator {
		*result = current
		return nil
	}
	pending := current.WithStatus(authorization.StatusPendingOperator, s.now())
	if err := s.auths.UpdateStatus(ctx, pending); err != nil {
		return err
	}
	*result = pending
	return nil
}
