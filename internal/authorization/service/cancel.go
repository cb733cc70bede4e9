package service

import (
	"context"
	"fmt"
	"time"

	"authhub/internal/authorization"
	"authhub/internal/events"
	dErrors "authhub/pkg/domain-errors"
)

// Cancel withdraws an authorization. Cancelling a terminal authorization is
// a conflict, not a silent no-op; the caller learns the request had no
// effect.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (authorization.Authorization, error) {
	ctx, span := s.tracer.Start(ctx, "authorization.cancel")
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
			return dErrors.Newf(dErrors.CodeCancellationNotAllowed,
				"authorization in status %s cannot be cancelled", current.Status)
		}

		cancelled := current.WithStatus(authorization.StatusCancelled, s.now())
		if err := s.auths.UpdateStatus(ctx, cancelled); err != nil {
			return fmt.Errorf("mark authorization cancelled: %w", err)
		}
		if err := s.appendAuthEvent(ctx, cmd.CorrelationID, cancelled, events.TypeCancelled, map[string]any{
			"authorizationId": cancelled.ID.String(),
			"reason":          cmd.Reason,
			"cancelledAt":     cancelled.UpdatedAt.Format(time.RFC3339Nano),
		}); err != nil {
			return err
		}
		result = cancelled
		return nil
	})
	if err != nil {
		return authorization.Authorization{}, err
	}
	return result, nil
}
