// Package bootstrap assembles the notification pipeline from configuration.
// Both the HTTP relay and the alert worker start from Build.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/jackc/pgx/v5/pgxpool"

	"safetyalert/internal/config"
	"safetyalert/internal/core"
	"safetyalert/internal/db"
	"safetyalert/internal/external"
	"safetyalert/internal/logging"
	ncore "safetyalert/internal/notifications/core"
	"safetyalert/internal/notifications/email"
	"safetyalert/internal/notifications/fanout"
	"safetyalert/internal/notifications/guard"
	"safetyalert/internal/notifications/recipients"
	"safetyalert/internal/telemetry"
)

// Components is the assembled pipeline. Pool, Prometheus and AWS are nil when
// the configuration does not call for them.
type Components struct {
	Service    *fanout.Service
	Guard      *guard.Guard
	Metrics    ncore.NotificationMetrics
	Prometheus *telemetry.Prometheus
	Pool       *pgxpool.Pool
	Alerts     *db.AlertRepository
	AWS        *aws.Config
	Probes     []core.HealthProbe
}

// Option overrides a dependency Build would otherwise create.
type Option func(*buildOptions)

type buildOptions struct {
	awsCfg   *aws.Config
	registry *external.ClientRegistry
}

// WithAWSConfig skips LoadDefaultConfig.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *buildOptions) { o.awsCfg = &cfg }
}

// WithClientRegistry supplies the delivery transports directly.
func WithClientRegistry(r *external.ClientRegistry) Option {
	return func(o *buildOptions) { o.registry = r }
}

// Build wires guard, resolver, renderer, transports and metrics into a
// fanout.Service. Close must be called to release the database pool.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &buildOptions{}
	for _, opt := range opts {
		opt(o)
	}
	adapter := logging.NewAdapter(logger)
	c := &Components{AWS: o.awsCfg}

	if needsAWS(cfg) && c.AWS == nil {
		awsCfg, err := loadAWSConfig(ctx, cfg.AWS)
		if err != nil {
			return nil, err
		}
		c.AWS = &awsCfg
	}

	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		c.Prometheus = telemetry.NewPrometheus()
		c.Metrics = c.Prometheus
	case "cloudwatch":
		c.Metrics = ncore.NewCloudWatchNotificationMetrics(
			cloudwatch.NewFromConfig(*c.AWS), cfg.Observability.MetricNamespace, adapter.With("component", "metrics"))
	default:
		c.Metrics = ncore.NoopMetrics{}
	}

	if cfg.Database.URL.IsSet() {
		pool, err := db.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: connecting to database: %w", err)
		}
		c.Pool = pool
	}
	var profiles *db.ProfileRepository
	if c.Pool != nil {
		profiles = db.NewProfileRepository(c.Pool)
		c.Alerts = db.NewAlertRepository(c.Pool)
		c.Probes = append(c.Probes, db.NewHealthProbe(c.Pool))
	}

	registry := o.registry
	if registry == nil {
		var regOpts []external.RegistryOption
		if c.AWS != nil {
			regOpts = append(regOpts, external.WithAWSConfig(*c.AWS))
		}
		r, err := external.NewClientRegistry(cfg, logger, regOpts...)
		if err != nil {
			c.Close()
			return nil, err
		}
		registry = r
	}

	renderer, err := email.NewRenderer(email.RendererConfig{
		FromAddress:  cfg.Email.FromAddress,
		FromName:     cfg.Email.FromName,
		DashboardURL: cfg.Server.DashboardURL,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Guard = guard.New(
		guard.WithCooldown(cfg.Relay.Cooldown),
		guard.WithRetention(cfg.Relay.Retention),
		guard.WithEventExpiry(cfg.Relay.EventExpiry),
		guard.WithLogger(adapter.With("component", "guard")),
	)

	var resolver recipients.Resolver
	if cfg.Relay.ResolverMode == config.ResolverModeStore {
		if profiles == nil {
			c.Close()
			return nil, fmt.Errorf("bootstrap: RESOLVER_MODE=store requires a database")
		}
		resolver = recipients.NewStoreResolver(profiles, adapter.With("component", "resolver"))
	} else {
		resolver = recipients.NewStaticResolver(cfg.Relay.ServiceAddresses, cfg.Email.OperatorAddress)
	}

	deps := fanout.Deps{
		Guard:    c.Guard,
		Resolver: resolver,
		Renderer: renderer,
		Channel: email.NewChannel(email.ChannelConfig{
			Provider: registry.Email,
			Sender:   renderer.Sender(),
			Timeout:  cfg.Email.SendTimeout,
			Logger:   adapter.With("component", "email"),
		}),
		Push:    registry.Push,
		Metrics: c.Metrics,
		Logger:  adapter.With("component", "fanout"),
	}
	// A nil *ProfileRepository must not become a non-nil interface.
	if profiles != nil {
		deps.Tokens = profiles
	}
	c.Service = fanout.NewService(deps, fanout.Config{
		MaxConcurrentSends: cfg.Relay.MaxConcurrentSends,
		SendRatePerSecond:  cfg.Relay.SendRatePerSecond,
	})

	logger.Info("notification pipeline ready",
		"resolver", cfg.Relay.ResolverMode,
		"metrics", cfg.Observability.MetricsBackend,
		"database", c.Pool != nil,
		"cooldown", cfg.Relay.Cooldown.String(),
	)
	return c, nil
}

// Close releases the database pool.
func (c *Components) Close() {
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// loadAWSConfig loads the default SDK chain for the configured region and
// honours AWS_ENDPOINT_URL for LocalStack.
func loadAWSConfig(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("bootstrap: loading AWS config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Email.Provider == config.EmailProviderSES ||
		cfg.Observability.MetricsBackend == "cloudwatch" ||
		(cfg.Tracker.Enabled && cfg.Tracker.Dispatch == config.DispatchQueue)
}
