// Package main is the entrypoint for the Alert Worker Lambda function.
//
// The worker consumes AlertCreatedMessage records from the alert events
// queue, published by the relay's tracker in queue dispatch mode, and runs
// the same fan-out as the inline tracker: service alert to the category,
// then a confirmation to the creator.
//
// Cold Start (main):
//  1. Load configuration and build the notification pipeline.
//  2. Register the handler and call lambda.Start.
//
// With APP_ENV=local the SQS event is read from stdin instead.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"safetyalert/internal/bootstrap"
	"safetyalert/internal/config"
	"safetyalert/internal/logging"
	"safetyalert/internal/tracker"
)

func main() {
	var provider config.SecretProvider
	if env := os.Getenv("APP_ENV"); env != "" && env != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "alert-worker")
	logger.Info("Alert Worker Lambda initializing (cold start)", "build", cfg.Build.String())

	// The tracker runs in the relay, never here.
	cfg.Tracker.Enabled = false

	comps, err := bootstrap.Build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to build notification pipeline", "error", err)
		os.Exit(1)
	}
	defer comps.Close()

	handler := NewHandler(
		tracker.NewInlineDispatcher(comps.Service, logger.With("component", "dispatcher")),
		comps.Metrics,
		logging.NewAdapter(logger),
	)

	if cfg.Environment == "local" {
		if err := runLocal(handler); err != nil {
			logger.Error("local run failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(handler.Handle)
}

// runLocal reads one JSON SQS event from stdin.
// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/alert-worker
func runLocal(handler *Handler) error {
	payload, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}
	if len(payload) == 0 {
		return fmt.Errorf("no input received on stdin")
	}
	var sqsEvent events.SQSEvent
	if err := json.Unmarshal(payload, &sqsEvent); err != nil {
		return fmt.Errorf("parsing stdin as SQS event: %w", err)
	}
	response, err := handler.Handle(context.Background(), sqsEvent)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(response, "", "  ")
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}
