package main

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"

	ncore "safetyalert/internal/notifications/core"
	"safetyalert/internal/types"
)

// Dispatcher fans one alert out. tracker.InlineDispatcher in production.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert types.AlertPayload) error
}

// Handler holds the dependencies for the alert worker Lambda handler.
type Handler struct {
	dispatcher Dispatcher
	metrics    ncore.NotificationMetrics
	logger     types.Logger
	now        func() time.Time
}

func NewHandler(d Dispatcher, m ncore.NotificationMetrics, l types.Logger) *Handler {
	if m == nil {
		m = ncore.NoopMetrics{}
	}
	return &Handler{dispatcher: d, metrics: m, logger: l, now: time.Now}
}

// Handle processes an SQS batch of AlertCreatedMessage records. Records that
// fail with a retryable error are reported in BatchItemFailures so SQS
// redelivers only those.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processMessage(ctx, record); err != nil {
			h.logger.Error("failed to process SQS message",
				"message_id", record.MessageId,
				"error", err.Error(),
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

func (h *Handler) processMessage(ctx context.Context, record events.SQSMessage) error {
	var msg types.AlertCreatedMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		// Malformed bodies never succeed; ACK them.
		h.logger.Error("failed to unmarshal alert message",
			"message_id", record.MessageId,
			"error", err.Error(),
		)
		return nil
	}
	if msg.Alert.AlertID == "" {
		h.logger.Warn("alert message without alert id", "message_id", record.MessageId)
		return nil
	}

	logger := h.logger.With(
		"alert_id", msg.Alert.AlertID,
		"service_type", msg.Alert.ServiceType,
		"trace_id", msg.TraceID,
	)

	if sent, ok := sentTimestamp(record); ok {
		h.metrics.RecordQueueLag(ctx, h.now().Sub(sent))
	} else if !msg.PublishedAt.IsZero() {
		h.metrics.RecordQueueLag(ctx, h.now().Sub(msg.PublishedAt))
	}

	if err := h.dispatcher.Dispatch(ctx, msg.Alert); err != nil {
		if types.IsPermanent(err) {
			logger.Warn("dropping alert message", "error", err.Error())
			return nil
		}
		return err
	}
	logger.Info("alert message processed")
	return nil
}

// sentTimestamp reads the SQS SentTimestamp attribute (epoch milliseconds).
func sentTimestamp(record events.SQSMessage) (time.Time, bool) {
	raw, ok := record.Attributes["SentTimestamp"]
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}
