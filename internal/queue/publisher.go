// Package queue provides the SQS producer that hands new-alert events to the
// alert worker.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"safetyalert/internal/config"
	"safetyalert/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// AlertPublisher serializes AlertCreatedMessage envelopes onto the alert
// events queue.
type AlertPublisher struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
	now      func() time.Time
}

// NewAlertPublisher creates an AlertPublisher for awsCfg.AlertQueueURL.
func NewAlertPublisher(client SQSSender, awsCfg config.AWSConfig, logger *slog.Logger) *AlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertPublisher{
		client:   client,
		queueURL: awsCfg.AlertQueueURL,
		logger:   logger,
		now:      time.Now,
	}
}

// PublishAlertCreated enqueues one new alert. The alert id and service type
// are copied into message attributes.
func (p *AlertPublisher) PublishAlertCreated(ctx context.Context, alert types.AlertPayload) error {
	if p.queueURL == "" {
		return types.NewAppError(types.ErrCodeUpstreamQueue, "alert queue URL is not configured", nil)
	}

	msg := types.AlertCreatedMessage{
		MessageID:   uuid.NewString(),
		Alert:       alert,
		PublishedAt: p.now().UTC(),
		TraceID:     uuid.NewString(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal AlertCreatedMessage: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"alert_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.AlertID),
			},
			"service_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.ServiceType),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to publish alert %s", alert.AlertID), err)
	}

	p.logger.InfoContext(ctx, "alert event published",
		"queue_url", p.queueURL,
		"alert_id", alert.AlertID,
		"service_type", alert.ServiceType,
		"trace_id", msg.TraceID,
	)
	return nil
}
