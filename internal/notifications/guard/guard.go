// Package guard suppresses duplicate notifications. It keeps a per-fingerprint
// cooldown and a set of processed event ids, both in memory.
package guard

import (
	"context"
	"strings"
	"sync"
	"time"

	"safetyalert/internal/types"
)

const (
	DefaultCooldown    = 30 * time.Second
	DefaultRetention   = time.Hour
	DefaultEventExpiry = time.Hour

	sendPrefix  = "send:"
	eventPrefix = "event:"
)

// Guard is safe for concurrent use. The zero value is not usable; call New.
type Guard struct {
	mu          sync.Mutex
	store       Store
	now         func() time.Time
	cooldown    time.Duration
	retention   time.Duration
	eventExpiry time.Duration
	logger      types.Logger
}

// Option configures a Guard.
type Option func(*Guard)

func WithStore(s Store) Option { return func(g *Guard) { g.store = s } }
func WithClock(now func() time.Time) Option { return func(g *Guard) { g.now = now } }
func WithCooldown(d time.Duration) Option { return func(g *Guard) { g.cooldown = d } }
func WithRetention(d time.Duration) Option { return func(g *Guard) { g.retention = d } }
func WithEventExpiry(d time.Duration) Option { return func(g *Guard) { g.eventExpiry = d } }
func WithLogger(l types.Logger) Option { return func(g *Guard) { g.logger = l } }

func New(opts ...Option) *Guard {
	g := &Guard{
		now:         time.Now,
		cooldown:    DefaultCooldown,
		retention:   DefaultRetention,
		eventExpiry: DefaultEventExpiry,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.store == nil {
		g.store = NewMemoryStore()
	}
	if g.cooldown <= 0 {
		g.cooldown = DefaultCooldown
	}
	if g.retention <= 0 {
		g.retention = DefaultRetention
	}
	if g.eventExpiry <= 0 {
		g.eventExpiry = DefaultEventExpiry
	}
	return g
}

// Now returns the guard clock's current time.
func (g *Guard) Now() time.Time { return g.now() }

func (g *Guard) Cooldown() time.Duration { return g.cooldown }
func (g *Guard) Retention() time.Duration { return g.retention }
func (g *Guard) EventExpiry() time.Duration { return g.eventExpiry }

// ShouldSuppress reports whether fingerprint was sent less than the cooldown
// ago.
func (g *Guard) ShouldSuppress(fingerprint string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressedLocked(fingerprint, now)
}

func (g *Guard) suppressedLocked(fingerprint string, now time.Time) bool {
	e, ok := g.store.Get(sendPrefix + fingerprint)
	return ok && now.Sub(e.At) < g.cooldown
}

// Record marks fingerprint as sent at now, replacing any earlier record.
func (g *Guard) Record(fingerprint string, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store.Set(sendPrefix+fingerprint, Entry{At: now})
}

// TryAcquire is the atomic form of ShouldSuppress followed by Record. It
// returns true when the caller owns the send for fingerprint.
func (g *Guard) TryAcquire(fingerprint string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suppressedLocked(fingerprint, now) {
		return false
	}
	g.store.Set(sendPrefix+fingerprint, Entry{At: now})
	return true
}

// Release drops a reservation taken by TryAcquire at acquiredAt. A record
// written by a later acquisition is left alone.
func (g *Guard) Release(fingerprint string, acquiredAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := sendPrefix + fingerprint
	if e, ok := g.store.Get(key); ok && e.At.Equal(acquiredAt) {
		g.store.Delete(key)
	}
}

// CooldownRemaining returns how long fingerprint stays suppressed, or 0.
func (g *Guard) CooldownRemaining(fingerprint string, now time.Time) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.store.Get(sendPrefix + fingerprint)
	if !ok {
		return 0
	}
	if left := g.cooldown - now.Sub(e.At); left > 0 {
		return left
	}
	return 0
}

// IsEventProcessed reports whether eventID was marked and has not expired.
func (g *Guard) IsEventProcessed(eventID string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.eventLiveLocked(eventID, now)
}

func (g *Guard) eventLiveLocked(eventID string, now time.Time) bool {
	e, ok := g.store.Get(eventPrefix + eventID)
	return ok && now.Before(e.ExpiresAt)
}

// MarkEventProcessed records eventID until now+expiry. A non-positive expiry
// uses the configured default.
func (g *Guard) MarkEventProcessed(eventID string, now time.Time, expiry time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.markLocked(eventID, now, expiry)
}

func (g *Guard) markLocked(eventID string, now time.Time, expiry time.Duration) {
	if expiry <= 0 {
		expiry = g.eventExpiry
	}
	g.store.Set(eventPrefix+eventID, Entry{At: now, ExpiresAt: now.Add(expiry)})
}

// TryMarkEvent marks eventID and returns true, or returns false when it is
// already processed.
func (g *Guard) TryMarkEvent(eventID string, now time.Time, expiry time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.eventLiveLocked(eventID, now) {
		return false
	}
	g.markLocked(eventID, now, expiry)
	return true
}

// ReleaseEvent forgets a mark taken by TryMarkEvent at markedAt so the event
// can be handled again. A later mark is left alone.
func (g *Guard) ReleaseEvent(eventID string, markedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := eventPrefix + eventID
	if e, ok := g.store.Get(key); ok && e.At.Equal(markedAt) {
		g.store.Delete(key)
	}
}

// Sweep removes send records older than retention and expired event ids.
// A non-positive retention uses the configured default. It returns the
// number of entries removed.
func (g *Guard) Sweep(now time.Time, retention time.Duration) int {
	if retention <= 0 {
		retention = g.retention
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	g.store.Range(func(key string, e Entry) bool {
		var stale bool
		switch {
		case strings.HasPrefix(key, eventPrefix):
			stale = !now.Before(e.ExpiresAt)
		default:
			stale = now.Sub(e.At) > retention
		}
		if stale {
			g.store.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Stats is a point-in-time count of guard entries.
type Stats struct {
	SendRecords int `json:"sendRecords"`
	Events      int `json:"events"`
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	var s Stats
	g.store.Range(func(key string, _ Entry) bool {
		if strings.HasPrefix(key, eventPrefix) {
			s.Events++
		} else {
			s.SendRecords++
		}
		return true
	})
	return s
}

// RunSweeper sweeps every interval until ctx is done. It returns immediately
// when interval is not positive.
func (g *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Sweep(g.now(), g.retention); n > 0 && g.logger != nil {
				g.logger.Info("guard sweep", "removed", n)
			}
		}
	}
}
