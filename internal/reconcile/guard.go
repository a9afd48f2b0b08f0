// Package reconcile applies inbound relay notifications at most once in effect.
//
// Every notification carries a persisted isProcessed flag. The guard checks
// the flag, applies the side effect, and only then persists the flag. A crash
// between the last two steps replays the side effect on the next delivery, so
// side effects must be idempotent on their own.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrDeferred is returned by an apply step that chose not to run yet. The
// notification stays unprocessed and is retried on a later delivery.
var ErrDeferred = errors.New("reconcile: deferred")

// Outcome is the result of one Run.
type Outcome string

const (
	Skipped  Outcome = "skipped"
	InFlight Outcome = "in_flight"
	Applied  Outcome = "applied"
	Deferred Outcome = "deferred"
	Failed   Outcome = "failed"

	// Malformed deliveries never reach Run; see Guard.Reject.
	Malformed Outcome = "malformed"
)

// Entry is one delivery of a notification.
type Entry struct {
	// Kind labels the notification type in logs and metrics.
	Kind string

	// Key identifies the notification across deliveries.
	Key string

	// Processed is the persisted flag as delivered.
	Processed bool

	Apply         func(ctx context.Context) error
	MarkProcessed func(ctx context.Context) error
}

// Guard serialises deliveries of the same key within one process.
type Guard struct {
	outcomes *prometheus.CounterVec
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewGuard returns a Guard. outcomes may be nil; it is labelled by kind and
// outcome.
func NewGuard(outcomes *prometheus.CounterVec, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		outcomes: outcomes,
		logger:   logger,
		inFlight: make(map[string]struct{}),
	}
}

// Run applies e unless it is already processed or being applied.
func (g *Guard) Run(ctx context.Context, e Entry) (outcome Outcome, err error) {
	defer func() {
		if g.outcomes != nil {
			g.outcomes.WithLabelValues(e.Kind, string(outcome)).Inc()
		}
	}()

	if e.Processed {
		return Skipped, nil
	}

	id := e.Kind + "/" + e.Key
	g.mu.Lock()
	if _, busy := g.inFlight[id]; busy {
		g.mu.Unlock()
		return InFlight, nil
	}
	g.inFlight[id] = struct{}{}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.inFlight, id)
		g.mu.Unlock()
	}()

	if err := safeCall(ctx, e.Apply); err != nil {
		if errors.Is(err, ErrDeferred) {
			g.logger.Info("Notification deferred", "kind", e.Kind, "key", e.Key, "reason", err)
			return Deferred, err
		}
		g.logger.Error("Notification apply failed", "kind", e.Kind, "key", e.Key, "error", err)
		return Failed, err
	}

	if err := safeCall(ctx, e.MarkProcessed); err != nil {
		g.logger.Error("Notification flag write failed", "kind", e.Kind, "key", e.Key, "error", err)
		return Failed, err
	}
	return Applied, nil
}

// Reject records a delivery that could not be decoded. It is skipped and
// never retried by the guard.
func (g *Guard) Reject(kind, key string, err error) {
	if g.outcomes != nil {
		g.outcomes.WithLabelValues(kind, string(Malformed)).Inc()
	}
	g.logger.Warn("Skipping malformed notification", "kind", kind, "key", key, "error", err)
}

func safeCall(ctx context.Context, fn func(context.Context) error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
