package types

// Telemetry metric names shared by the CloudWatch and Prometheus backends.
const (
	MetricDeliveryAttempt = "DeliveryAttempt"
	MetricDeliveryLatency = "DeliveryAttemptLatency"
	MetricBatchSize       = "FanoutBatchSize"

	DimChannel  = "Channel"
	DimResult   = "Result"
	DimCategory = "Category"

	MetricNamespace = "SafetyAlert"
)
