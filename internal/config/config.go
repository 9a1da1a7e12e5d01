// Package config defines the global configuration structure for the Safety
// Alert relay. Configuration is loaded once at process start and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"safetyalert/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type used
// throughout configuration to prevent accidental logging of sensitive values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the relay.
// Sub-components receive only the config subsets they require.
type Config struct {
	// System Metadata
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"safety-alert-relay"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Email         EmailConfig
	Relay         RelayConfig
	Push          PushConfig
	Tracker       TrackerConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP listener and port discovery settings.
type ServerConfig struct {
	Host string `envconfig:"LISTEN_HOST" default:""`
	// BasePort is the first port probed. The server walks upward from it
	// until a free port is found or PortSearchLimit is exhausted.
	BasePort        int           `envconfig:"BASE_PORT" default:"3001" validate:"min=1,max=65535"`
	PortSearchLimit int           `envconfig:"PORT_SEARCH_LIMIT" default:"10" validate:"min=1,max=100"`
	DiscoveryFile   string        `envconfig:"DISCOVERY_FILE" default:"email-server-port.json"`
	DashboardURL    string        `envconfig:"DASHBOARD_URL" validate:"omitempty,url"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	// RateLimitPerMinute caps requests per client IP. 0 disables the limiter.
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120" validate:"min=0"`
}

// DatabaseConfig holds the profile/alert store connection and pool tuning.
// URL is only required when a store-backed component is enabled.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	AlertQueueURL string `envconfig:"SQS_ALERT_EVENTS" validate:"omitempty,url"`

	// LocalStack Support (Empty in Prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// Email provider names accepted by EMAIL_PROVIDER.
const (
	EmailProviderSMTP     = "smtp"
	EmailProviderSendGrid = "sendgrid"
	EmailProviderSES      = "ses"
	EmailProviderStub     = "stub"
)

// EmailConfig holds mail transport selection and credentials.
type EmailConfig struct {
	Provider string `envconfig:"EMAIL_PROVIDER" default:"smtp" validate:"oneof=smtp sendgrid ses stub"`

	FromAddress string `envconfig:"EMAIL_FROM_ADDRESS" default:"safety.alert.app@gmail.com" validate:"required,email"`
	FromName    string `envconfig:"EMAIL_FROM_NAME" default:"Safety Alert"`
	// OperatorAddress receives category fan-outs for unknown categories.
	OperatorAddress string `envconfig:"OPERATOR_EMAIL" default:"safety.alert.app@gmail.com" validate:"required,email"`

	SMTPHost     string       `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	SMTPPort     int          `envconfig:"SMTP_PORT" default:"587" validate:"min=1,max=65535"`
	SMTPUsername string       `envconfig:"SMTP_USERNAME"`
	SMTPPassword SecretString `envconfig:"SMTP_PASSWORD"`

	SendGridAPIKey  SecretString `envconfig:"SENDGRID_API_KEY"`
	SendGridBaseURL string       `envconfig:"SENDGRID_BASE_URL" default:"https://api.sendgrid.com" validate:"url"`

	SESConfigurationSet string `envconfig:"SES_CONFIGURATION_SET"`

	SendTimeout time.Duration `envconfig:"EMAIL_SEND_TIMEOUT" default:"10s"`
}

// Resolver modes accepted by RESOLVER_MODE.
const (
	ResolverModeStatic = "static"
	ResolverModeStore  = "store"
)

// RelayConfig tunes the dedup guard and fan-out.
type RelayConfig struct {
	ResolverMode string `envconfig:"RESOLVER_MODE" default:"static" validate:"oneof=static store"`

	Cooldown    time.Duration `envconfig:"COOLDOWN_WINDOW" default:"30s" validate:"gt=0"`
	Retention   time.Duration `envconfig:"RECORD_RETENTION" default:"1h" validate:"gt=0"`
	EventExpiry time.Duration `envconfig:"EVENT_EXPIRY" default:"1h" validate:"gt=0"`
	// SweepInterval drives the background sweeper. 0 disables it; sweeps
	// still run after every batch.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`

	MaxConcurrentSends int     `envconfig:"MAX_CONCURRENT_SENDS" default:"8" validate:"min=1,max=256"`
	SendRatePerSecond  float64 `envconfig:"SEND_RATE_PER_SECOND" default:"10" validate:"gte=0"`

	// ServiceAddresses is the static category table, "police:a@x.org,fire:b@x.org".
	ServiceAddresses map[string]string `envconfig:"SERVICE_EMAILS" default:"police:police@gmail.com,hospital:hospital@gmail.com,fire:fire@gmail.com,campus:campus@gmail.com"`
}

// Push provider names accepted by PUSH_PROVIDER.
const (
	PushProviderExpo = "expo"
	PushProviderStub = "stub"
	PushProviderNone = "none"
)

// PushConfig holds mobile push delivery settings.
type PushConfig struct {
	Provider    string       `envconfig:"PUSH_PROVIDER" default:"expo" validate:"oneof=expo stub none"`
	ExpoURL     string       `envconfig:"EXPO_PUSH_URL" default:"https://exp.host/--/api/v2/push/send" validate:"url"`
	AccessToken SecretString `envconfig:"EXPO_ACCESS_TOKEN"`
}

// Tracker dispatch modes accepted by TRACKER_DISPATCH.
const (
	DispatchInline = "inline"
	DispatchQueue  = "queue"
)

// TrackerConfig controls the in-process new-alert tracker.
type TrackerConfig struct {
	Enabled      bool          `envconfig:"TRACKER_ENABLED" default:"false"`
	PollInterval time.Duration `envconfig:"TRACKER_POLL_INTERVAL" default:"15s"`
	Dispatch     string        `envconfig:"TRACKER_DISPATCH" default:"inline" validate:"oneof=inline queue"`
}

// SecurityConfig holds CORS settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"prometheus" validate:"oneof=prometheus cloudwatch none"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"SafetyAlert"`
}

// BuildInfo holds build-time metadata injected via ldflags.
// These values are NOT populated from environment variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures to aid debugging.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values
	// into their target types.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
