package tracker

import (
	"context"
	"errors"
	"log/slog"

	"safetyalert/internal/types"
)

// Notifier is the subset of fanout.Service used for inline dispatch.
type Notifier interface {
	Notify(ctx context.Context, category string, payload *types.AlertPayload, eventID string) (*types.BatchResult, error)
	SendConfirmation(ctx context.Context, to string, payload *types.AlertPayload) (string, error)
}

// InlineDispatcher fans the alert out in-process and confirms receipt to the
// alert creator.
type InlineDispatcher struct {
	notifier Notifier
	logger   *slog.Logger
}

func NewInlineDispatcher(n Notifier, logger *slog.Logger) *InlineDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &InlineDispatcher{notifier: n, logger: logger}
}

// Dispatch sends the service alert under the alert-created event id, then a
// confirmation to the creator when the alert carries a user email. Only a
// failed Notify call is returned; confirmation failures are logged.
func (d *InlineDispatcher) Dispatch(ctx context.Context, alert types.AlertPayload) error {
	eventID := types.AlertCreatedMessage{Alert: alert}.EventID()

	batch, err := d.notifier.Notify(ctx, alert.ServiceType, &alert, eventID)
	if err != nil {
		return err
	}
	if batch.AlreadyHandled {
		return nil
	}
	if batch.NoRecipients {
		d.logger.WarnContext(ctx, "no recipients for alert", "alert_id", alert.AlertID, "service_type", alert.ServiceType)
	}

	if alert.UserEmail == "" {
		return nil
	}
	if _, err := d.notifier.SendConfirmation(ctx, alert.UserEmail, &alert); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeDuplicateSend {
			return nil
		}
		d.logger.WarnContext(ctx, "alert confirmation failed", "alert_id", alert.AlertID, "error", err)
	}
	return nil
}

// Publisher enqueues alert-created events.
type Publisher interface {
	PublishAlertCreated(ctx context.Context, alert types.AlertPayload) error
}

// QueueDispatcher hands alerts to the alert worker through SQS.
type QueueDispatcher struct {
	publisher Publisher
}

func NewQueueDispatcher(p Publisher) *QueueDispatcher {
	return &QueueDispatcher{publisher: p}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, alert types.AlertPayload) error {
	return d.publisher.PublishAlertCreated(ctx, alert)
}
