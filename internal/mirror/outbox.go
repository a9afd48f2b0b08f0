package mirror

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/relay"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

// OutboxConfig tunes delivery retries.
type OutboxConfig struct {
	// BaseDelay is the wait after the first failed attempt. It doubles per
	// attempt up to MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// PollInterval bounds how long a due entry waits without a Kick.
	PollInterval time.Duration

	BatchSize int
}

// DefaultOutboxConfig returns the delays used when none are configured.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BaseDelay:    time.Second,
		MaxDelay:     5 * time.Minute,
		PollInterval: 5 * time.Second,
		BatchSize:    50,
	}
}

// Outbox delivers relay writes that were persisted in the ledger store.
// Entries survive restarts and are retried with exponential backoff until
// the relay accepts them.
type Outbox struct {
	store   storage.OutboxStore
	mailbox relay.Mailbox
	cfg     OutboxConfig
	logger  *slog.Logger
	now     func() time.Time

	pending    prometheus.Gauge
	deliveries *prometheus.CounterVec

	kick   chan struct{}
	flush  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// OutboxOption configures an Outbox.
type OutboxOption func(*Outbox)

func WithOutboxLogger(logger *slog.Logger) OutboxOption {
	return func(o *Outbox) { o.logger = logger }
}

// WithOutboxMetrics reports the pending gauge and per-outcome delivery counts.
func WithOutboxMetrics(pending prometheus.Gauge, deliveries *prometheus.CounterVec) OutboxOption {
	return func(o *Outbox) {
		o.pending = pending
		o.deliveries = deliveries
	}
}

func NewOutbox(store storage.OutboxStore, mailbox relay.Mailbox, cfg OutboxConfig, opts ...OutboxOption) *Outbox {
	def := DefaultOutboxConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	o := &Outbox{
		store:   store,
		mailbox: mailbox,
		cfg:     cfg,
		logger:  slog.Default(),
		now:     time.Now,
		kick:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enqueue persists a write of payload to path and wakes the worker. A newer
// payload for the same path replaces an undelivered older one.
func (o *Outbox) Enqueue(ctx context.Context, path string, payload []byte) error {
	entry := &models.OutboxEntry{Path: path, Payload: payload, NextAttemptAt: o.now()}
	if err := o.store.EnqueueOutbox(ctx, entry); err != nil {
		return err
	}
	o.logger.Debug("Outbox entry queued", "path", path, "revision", entry.Revision)
	o.refreshPending(ctx)
	o.Kick()
	return nil
}

// Kick requests an immediate delivery pass.
func (o *Outbox) Kick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

// Start runs the delivery loop until Stop or ctx is done.
func (o *Outbox) Start(ctx context.Context) {
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	go o.run(ctx)
}

// Stop ends the delivery loop and waits for the current pass.
func (o *Outbox) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
}

func (o *Outbox) run(ctx context.Context) {
	defer close(o.done)
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	o.Flush(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.kick:
		case <-ticker.C:
		}
		o.Flush(ctx)
	}
}

// Flush attempts every due entry once and returns how many were delivered.
func (o *Outbox) Flush(ctx context.Context) int {
	o.flush.Lock()
	defer o.flush.Unlock()

	delivered := 0
	for ctx.Err() == nil {
		entries, err := o.store.ListDueOutbox(ctx, o.now(), o.cfg.BatchSize)
		if err != nil {
			o.logger.Error("Outbox read failed", "error", err)
			return delivered
		}
		if len(entries) == 0 {
			break
		}
		progressed := false
		for _, entry := range entries {
			if o.deliver(ctx, entry) {
				delivered++
				progressed = true
			}
		}
		if !progressed || len(entries) < o.cfg.BatchSize {
			break
		}
	}
	o.refreshPending(ctx)
	return delivered
}

func (o *Outbox) deliver(ctx context.Context, entry models.OutboxEntry) bool {
	err := o.mailbox.Put(ctx, entry.Path, entry.Payload)
	if err == nil {
		if err := o.store.DeleteOutbox(ctx, entry.Path, entry.Revision); err != nil {
			o.logger.Error("Outbox delete failed", "path", entry.Path, "error", err)
		}
		o.count("delivered")
		o.logger.Debug("Outbox entry delivered", "path", entry.Path, "attempts", entry.Attempts+1)
		return true
	}

	attempts := entry.Attempts + 1
	next := o.now().Add(o.backoff(attempts))
	if markErr := o.store.MarkOutboxFailed(ctx, entry.Path, entry.Revision, attempts, next, err.Error()); markErr != nil {
		o.logger.Error("Outbox retry bookkeeping failed", "path", entry.Path, "error", markErr)
	}
	o.count("failed")
	o.logger.Warn("Outbox delivery failed", "path", entry.Path, "attempts", attempts, "next_attempt_at", next, "error", err)
	return false
}

func (o *Outbox) backoff(attempts int) time.Duration {
	delay := o.cfg.BaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= o.cfg.MaxDelay {
			return o.cfg.MaxDelay
		}
	}
	return delay
}

func (o *Outbox) count(outcome string) {
	if o.deliveries != nil {
		o.deliveries.WithLabelValues(outcome).Inc()
	}
}

func (o *Outbox) refreshPending(ctx context.Context) {
	if o.pending == nil {
		return
	}
	n, err := o.store.CountOutbox(ctx)
	if err != nil {
		return
	}
	o.pending.Set(float64(n))
}
