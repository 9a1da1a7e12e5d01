// Package main is the entry point for the Safety Alert relay server.
//
// Startup:
//  1. Load configuration (.env, SSM pointers, environment).
//  2. Build the notification pipeline (guard, resolver, transports, metrics).
//  3. Mount the HTTP facade on the core chassis.
//  4. Bind the first free port from BASE_PORT and publish it in the
//     discovery file.
//  5. Start the guard sweeper and, when enabled, the alert tracker.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"golang.org/x/sync/errgroup"

	"safetyalert/internal/api/handlers"
	"safetyalert/internal/bootstrap"
	"safetyalert/internal/config"
	"safetyalert/internal/core"
	"safetyalert/internal/db"
	"safetyalert/internal/discovery"
	"safetyalert/internal/logging"
	"safetyalert/internal/queue"
	"safetyalert/internal/tracker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(newSecretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", cfg.Service)
	logger.Info("safety alert relay starting",
		"environment", cfg.Environment,
		"build", cfg.Build.String(),
		"email_provider", cfg.Email.Provider,
		"resolver", cfg.Relay.ResolverMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}
	defer comps.Close()

	if comps.Pool != nil && cfg.Environment == "local" {
		if err := db.Migrate(ctx, comps.Pool); err != nil {
			return fmt.Errorf("migrating schema: %w", err)
		}
	}

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = comps.Probes
	if comps.Prometheus != nil {
		srv.Metrics = comps.Prometheus
		srv.MetricsHandler = comps.Prometheus.Handler()
	}

	relayHandler := handlers.NewRelayHandler(comps.Service, srv.Validator, logger)
	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars, relayHandler.RegisterRoutes)
	srv.MountRoutes()

	ln, port, err := discovery.Listen(cfg.Server.Host, cfg.Server.BasePort, cfg.Server.PortSearchLimit)
	if err != nil {
		return err
	}
	if port != cfg.Server.BasePort {
		logger.Warn("base port busy, using next free port", "base_port", cfg.Server.BasePort, "port", port)
	}

	endpoint := discovery.NewEndpoint(port, time.Now())
	if cfg.Server.DiscoveryFile != "" {
		if err := discovery.WriteEndpointFile(cfg.Server.DiscoveryFile, endpoint); err != nil {
			logger.Warn("could not write discovery file", "path", cfg.Server.DiscoveryFile, "error", err)
		} else {
			defer func() {
				if err := discovery.RemoveEndpointFile(cfg.Server.DiscoveryFile); err != nil {
					logger.Warn("could not remove discovery file", "error", err)
				}
			}()
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		comps.Guard.RunSweeper(gctx, cfg.Relay.SweepInterval)
		return nil
	})

	if cfg.Tracker.Enabled {
		t, err := newTracker(cfg, comps, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := t.Run(gctx); err != nil {
				return fmt.Errorf("alert tracker: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return serveHTTP(gctx, srv, ln, endpoint.URL, logger)
	})

	err = g.Wait()
	logger.Info("relay stopped", "error", err)
	return err
}

// newTracker wires the tracker to the alert store and the configured
// dispatcher.
func newTracker(cfg *config.Config, comps *bootstrap.Components, logger *slog.Logger) (*tracker.Tracker, error) {
	if comps.Alerts == nil {
		return nil, errors.New("alert tracker requires a database")
	}

	var dispatcher tracker.Dispatcher
	switch cfg.Tracker.Dispatch {
	case config.DispatchQueue:
		if comps.AWS == nil {
			return nil, errors.New("queue dispatch requires an AWS config")
		}
		pub := queue.NewAlertPublisher(sqs.NewFromConfig(*comps.AWS), cfg.AWS, logger.With("component", "publisher"))
		dispatcher = tracker.NewQueueDispatcher(pub)
	default:
		dispatcher = tracker.NewInlineDispatcher(comps.Service, logger.With("component", "dispatcher"))
	}

	return tracker.New(comps.Alerts, dispatcher, tracker.Config{
		PollInterval: cfg.Tracker.PollInterval,
	}, logger.With("component", "tracker")), nil
}

// serveHTTP runs the server on ln until ctx is cancelled, then drains
// in-flight requests with a 10-second deadline.
func serveHTTP(ctx context.Context, srv *core.Server, ln net.Listener, url string, logger *slog.Logger) error {
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", ln.Addr().String(), "url", url)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newSecretProvider returns nil for local runs, where SSM resolution is
// skipped, and the SSM provider otherwise.
func newSecretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" || os.Getenv("APP_ENV") == "" {
		return nil
	}
	var opts []config.SSMOption
	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		opts = append(opts, config.WithSSMEndpoint(endpoint))
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region, opts...)
}
