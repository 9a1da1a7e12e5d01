package core

import (
	"context"
	"time"
)

// MetricsCollector records API request telemetry.
type MetricsCollector interface {
	RecordRequest(method, endpoint, status string, duration time.Duration)
}

// HealthProbe is a subsystem check run by GET /health.
type HealthProbe interface {
	// Name identifies the probe in the components map (e.g. "database").
	Name() string

	// Check must respect the context deadline.
	Check(ctx context.Context) error
}
