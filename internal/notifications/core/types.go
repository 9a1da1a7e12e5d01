// Package core holds the delivery telemetry shared by every relay entry
// point (HTTP facade, tracker, alert worker).
package core

import (
	"context"
	"time"

	"safetyalert/internal/types"
)

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	// MetricSkipped marks a recipient suppressed by the cooldown guard.
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics records delivery telemetry. Implementations must not
// block the send path on backend failures.
type NotificationMetrics interface {
	RecordDelivery(ctx context.Context, channel types.ChannelType, result MetricResult)
	RecordLatency(ctx context.Context, channel types.ChannelType, duration time.Duration)
	RecordBatch(ctx context.Context, category string, size int)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordDelivery(context.Context, types.ChannelType, MetricResult)  {}
func (NoopMetrics) RecordLatency(context.Context, types.ChannelType, time.Duration) {}
func (NoopMetrics) RecordBatch(context.Context, string, int)                        {}
func (NoopMetrics) RecordQueueLag(context.Context, time.Duration)                   {}

var _ NotificationMetrics = NoopMetrics{}
