// Package tracker watches the alert store for newly created alerts and hands
// each one to a Dispatcher exactly once per process.
//
// Key behaviors:
//   - Alerts already present at start-up are marked seen and never dispatched.
//   - The store is polled with a created_at cursor; rows at the cursor
//     boundary are filtered by the seen set.
//   - A failed dispatch leaves the alert unseen so the next poll retries it.
//   - An alert that fails with a permanent error is dropped and marked seen
//     so it cannot hold the cursor.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"safetyalert/internal/types"
)

const (
	// DefaultPollInterval is used when Config.PollInterval is zero.
	DefaultPollInterval = 15 * time.Second
	// DefaultBatchLimit caps the rows read per poll.
	DefaultBatchLimit = 100
	// DefaultLookback widens the first cursor to absorb clock skew between the
	// relay and the database.
	DefaultLookback = time.Minute
)

// AlertSource abstracts the alert repository reads the tracker needs.
type AlertSource interface {
	ListIDs(ctx context.Context) ([]string, error)
	ListCreatedSince(ctx context.Context, since time.Time, limit int) ([]types.AlertPayload, error)
}

// Dispatcher delivers one new alert downstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert types.AlertPayload) error
}

// Config tunes the tracker.
type Config struct {
	PollInterval time.Duration
	BatchLimit   int
	Lookback     time.Duration
}

// Tracker is not safe for concurrent Poll calls; Run drives it from a single
// goroutine.
type Tracker struct {
	source     AlertSource
	dispatcher Dispatcher
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time

	cursor time.Time
	// seen maps alert id to the time it can be forgotten: once the cursor has
	// passed that instant the store will not return the row again.
	seen   map[string]time.Time
	seeded bool
}

// New creates a Tracker. Zero Config fields take their defaults.
func New(source AlertSource, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	return &Tracker{
		source:     source,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		seen:       make(map[string]time.Time),
	}
}

// Seed marks every stored alert as seen and positions the cursor at the
// current time minus the lookback.
func (t *Tracker) Seed(ctx context.Context) error {
	ids, err := t.source.ListIDs(ctx)
	if err != nil {
		return err
	}
	now := t.now().UTC()
	for _, id := range ids {
		t.seen[id] = now
	}
	t.cursor = now.Add(-t.cfg.Lookback)
	t.seeded = true
	t.logger.InfoContext(ctx, "alert tracker seeded", "existing_alerts", len(ids))
	return nil
}

// Poll reads alerts created since the cursor and dispatches the unseen ones.
// It returns the number dispatched successfully. Retryable dispatch errors are
// joined into the returned error after every alert has been attempted;
// permanent ones are logged and not returned.
func (t *Tracker) Poll(ctx context.Context) (int, error) {
	if !t.seeded {
		if err := t.Seed(ctx); err != nil {
			return 0, err
		}
	}

	alerts, err := t.source.ListCreatedSince(ctx, t.cursor, t.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}

	var (
		dispatched int
		dropped    int
		errs       []error
		newest     = t.cursor
		blocked    bool
	)
	for _, a := range alerts {
		if _, ok := t.seen[a.AlertID]; ok {
			continue
		}
		switch err := t.dispatcher.Dispatch(ctx, a); {
		case err == nil:
			dispatched++
		case types.IsPermanent(err):
			t.logger.WarnContext(ctx, "dropping undeliverable alert",
				"alert_id", a.AlertID,
				"service_type", a.ServiceType,
				"error", err,
			)
			dropped++
		default:
			t.logger.ErrorContext(ctx, "alert dispatch failed",
				"alert_id", a.AlertID,
				"service_type", a.ServiceType,
				"error", err,
			)
			errs = append(errs, err)
			// Hold the cursor so this row is read again next poll.
			blocked = true
			continue
		}
		t.seen[a.AlertID] = a.Time.At
		if !blocked && a.Time.At.After(newest) {
			newest = a.Time.At
		}
	}

	t.cursor = newest
	t.forget()

	if dispatched > 0 || dropped > 0 {
		t.logger.InfoContext(ctx, "new alerts dispatched", "count", dispatched, "dropped", dropped)
	}
	return dispatched, errors.Join(errs...)
}

// forget drops seen entries the cursor has moved past.
func (t *Tracker) forget() {
	for id, at := range t.seen {
		if at.Before(t.cursor) {
			delete(t.seen, id)
		}
	}
}

// Run seeds the tracker and polls until ctx is cancelled. A failed seed is
// returned; poll errors are logged and retried on the next tick.
func (t *Tracker) Run(ctx context.Context) error {
	if err := t.Seed(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := t.Poll(ctx); err != nil && ctx.Err() == nil {
				t.logger.WarnContext(ctx, "alert poll failed", "error", err)
			}
		}
	}
}
