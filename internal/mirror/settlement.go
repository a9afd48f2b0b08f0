package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/reconcile"
	"github.com/Harry0M/oikos-sub001/internal/relay"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

const kindSettlement = "settlement"

// SettlementIdempotencyKey is the transaction key for a settlement
// notification, one booking per sender and mailbox key.
func SettlementIdempotencyKey(senderID, key string) string {
	return "settlement:" + senderID + ":" + key
}

// SettlementMirror books payments that counterparts report and reports
// payments made on linked debts.
type SettlementMirror struct {
	deps     Deps
	notifier Notifier
	logger   *slog.Logger
	listener *listener
}

func NewSettlementMirror(deps Deps, notifier Notifier) *SettlementMirror {
	if notifier == nil {
		notifier = LogNotifier{Logger: deps.logger()}
	}
	m := &SettlementMirror{
		deps:     deps,
		notifier: notifier,
		logger:   deps.logger().With("component", "settlement_mirror"),
	}
	m.listener = newListener(deps.Mailbox, relay.SettlementNotificationsPath(deps.Identity.UserID), m.handle, m.logger)
	return m
}

func (m *SettlementMirror) Start(ctx context.Context) {
	m.listener.start(ctx)
}

func (m *SettlementMirror) Stop() {
	m.listener.stop()
}

func (m *SettlementMirror) Wait() {
	m.listener.wait()
}

// Retry replays unprocessed notifications, such as ones deferred for lack of
// a default account.
func (m *SettlementMirror) Retry() {
	m.listener.resubscribe()
}

// SendSettlement queues a notification of payment on debt for the debt's
// counterpart. Only linked debts the local user owes are reported.
func (m *SettlementMirror) SendSettlement(ctx context.Context, payment models.DebtPayment, debt models.Debt, senderName string) error {
	if debt.LinkedFriendID == "" {
		return ErrNotLinked
	}
	if debt.Type != models.DebtTypeDebt {
		return nil
	}
	debtID := debt.ID
	if debt.IsMirrored {
		debtID = debt.SourceDebtID
	}
	payload, err := relay.EncodeSettlementNotification(models.SettlementNotification{
		SettlementID: payment.ID,
		DebtID:       debtID,
		SenderID:     m.deps.Identity.UserID,
		SenderName:   m.deps.senderName(senderName),
		Amount:       payment.Amount,
		Note:         payment.Note,
		CreatedAt:    payment.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode settlement notification: %w", err)
	}
	path := relay.SettlementNotificationPath(debt.LinkedFriendID, payment.ID)
	if err := m.deps.Outbox.Enqueue(ctx, path, payload); err != nil {
		return fmt.Errorf("failed to queue settlement notification: %w", err)
	}
	m.logger.Info("Settlement queued for counterpart", "payment_id", payment.ID, "counterpart", debt.LinkedFriendID)
	return nil
}

func (m *SettlementMirror) handle(ctx context.Context, ev relay.Event) {
	n, err := relay.DecodeSettlementNotification(ev.Key, ev.Value)
	if err != nil {
		m.deps.Guard.Reject(kindSettlement, ev.Key, err)
		return
	}
	outcome, _ := m.deps.Guard.Run(ctx, reconcile.Entry{
		Kind:      kindSettlement,
		Key:       n.Key,
		Processed: n.IsProcessed,
		Apply: func(ctx context.Context) error {
			return m.book(ctx, n)
		},
		MarkProcessed: func(ctx context.Context) error {
			return m.deps.Mailbox.Update(ctx, ev.Path, map[string]any{"isProcessed": true})
		},
	})
	m.logger.Debug("Settlement notification handled", "key", n.Key, "outcome", outcome)
}

func (m *SettlementMirror) book(ctx context.Context, n models.SettlementNotification) error {
	account, err := m.deps.Store.GetDefaultAccount(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("no default account: %w", reconcile.ErrDeferred)
	}
	if err != nil {
		return err
	}

	note := n.Note
	if note == "" {
		note = "Settlement from " + n.SenderName
	}
	txn := models.Transaction{
		AccountID:      account.ID,
		Type:           models.TransactionIncome,
		Category:       models.CategoryDebtSettlement,
		Amount:         n.Amount,
		Note:           note,
		IdempotencyKey: SettlementIdempotencyKey(n.SenderID, n.Key),
	}
	err = m.deps.Store.BookIncome(ctx, &txn)
	if errors.Is(err, storage.ErrDuplicate) {
		m.logger.Info("Settlement already booked", "key", n.Key, "sender", n.SenderID)
		return nil
	}
	if err != nil {
		return err
	}

	m.logger.Info("Settlement booked", "key", n.Key, "sender", n.SenderID, "amount", n.Amount, "account_id", account.ID)
	m.notifier.Confirm(ctx, n, txn)
	return nil
}
