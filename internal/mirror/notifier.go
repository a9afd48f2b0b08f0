package mirror

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

// Notifier surfaces a transient confirmation when a settlement is booked.
type Notifier interface {
	Confirm(ctx context.Context, n models.SettlementNotification, txn models.Transaction)
}

// LogNotifier writes confirmations to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Confirm(ctx context.Context, n models.SettlementNotification, txn models.Transaction) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "Settlement received", "from", n.SenderName, "amount", n.Amount, "account_id", txn.AccountID)
}

// RecentNotifier keeps the last few confirmations in memory for display.
type RecentNotifier struct {
	Limit int

	mu    sync.Mutex
	items []models.SettlementNotification
}

func (r *RecentNotifier) Confirm(ctx context.Context, n models.SettlementNotification, txn models.Transaction) {
	limit := r.Limit
	if limit <= 0 {
		limit = 20
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
	if len(r.items) > limit {
		r.items = r.items[len(r.items)-limit:]
	}
}

// Drain returns pending confirmations, oldest first, and forgets them.
func (r *RecentNotifier) Drain() []models.SettlementNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

// MultiNotifier fans a confirmation out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Confirm(ctx context.Context, n models.SettlementNotification, txn models.Transaction) {
	for _, notifier := range m {
		notifier.Confirm(ctx, n, txn)
	}
}
