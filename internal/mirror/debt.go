package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/reconcile"
	"github.com/Harry0M/oikos-sub001/internal/relay"
)

const kindDebt = "debt"

var (
	ErrNotLinked   = errors.New("mirror: debt has no counterpart")
	ErrNotMirrored = errors.New("mirror: debt is not a mirrored debt")
)

// mirrorNamespace seeds the name-based ids of mirrored debts.
var mirrorNamespace = uuid.MustParse("6f1c7a52-3d0e-4b8e-9a51-2f4c8e1b7d90")

// MirroredDebtID is the local id of the mirror of sender's debt debtID. It is
// the same on every delivery, so a replay cannot create a second mirror.
func MirroredDebtID(senderID, debtID string) string {
	return uuid.NewSHA1(mirrorNamespace, []byte(senderID+"/"+debtID)).String()
}

// DebtMirror sends linked debts to counterparts and mirrors debts they send.
type DebtMirror struct {
	deps     Deps
	logger   *slog.Logger
	listener *listener
}

func NewDebtMirror(deps Deps) *DebtMirror {
	m := &DebtMirror{deps: deps, logger: deps.logger().With("component", "debt_mirror")}
	m.listener = newListener(deps.Mailbox, relay.DebtNotificationsPath(deps.Identity.UserID), m.handle, m.logger)
	return m
}

// Start attaches to the signed-in user's debt notifications.
func (m *DebtMirror) Start(ctx context.Context) {
	m.listener.start(ctx)
}

// Stop detaches. In-flight handlers keep running.
func (m *DebtMirror) Stop() {
	m.listener.stop()
}

// Wait blocks until in-flight handlers finish. It may be called while the
// mirror is still listening.
func (m *DebtMirror) Wait() {
	m.listener.wait()
}

// SyncDebtToFriend queues a notification of debt for counterpartID. The
// mailbox key is the debt id, so sending again overwrites the earlier copy.
func (m *DebtMirror) SyncDebtToFriend(ctx context.Context, debt models.Debt, counterpartID, senderName string) error {
	if counterpartID == "" {
		return ErrNotLinked
	}
	payload, err := relay.EncodeDebtNotification(models.DebtNotification{
		DebtID:          debt.ID,
		SenderID:        m.deps.Identity.UserID,
		SenderName:      m.deps.senderName(senderName),
		Type:            debt.Type,
		TotalAmount:     debt.TotalAmount,
		RemainingAmount: debt.RemainingAmount,
		Description:     debt.Description,
		DueDate:         debt.DueDate,
		CreatedAt:       debt.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode debt notification: %w", err)
	}
	if err := m.deps.Outbox.Enqueue(ctx, relay.DebtNotificationPath(counterpartID, debt.ID), payload); err != nil {
		return fmt.Errorf("failed to queue debt notification: %w", err)
	}
	m.logger.Info("Debt queued for counterpart", "debt_id", debt.ID, "counterpart", counterpartID)
	return nil
}

// DismissSyncedDebt deletes the local mirror only. The sender's record and
// the mailbox entry are left alone.
func (m *DebtMirror) DismissSyncedDebt(ctx context.Context, debt models.Debt) error {
	if !debt.IsMirrored {
		return ErrNotMirrored
	}
	if err := m.deps.Store.DeleteDebt(ctx, debt.ID); err != nil {
		return fmt.Errorf("failed to dismiss mirrored debt: %w", err)
	}
	m.logger.Info("Mirrored debt dismissed", "debt_id", debt.ID, "counterpart", debt.LinkedFriendID)
	return nil
}

func (m *DebtMirror) handle(ctx context.Context, ev relay.Event) {
	n, err := relay.DecodeDebtNotification(ev.Key, ev.Value)
	if err != nil {
		m.deps.Guard.Reject(kindDebt, ev.Key, err)
		return
	}
	outcome, _ := m.deps.Guard.Run(ctx, reconcile.Entry{
		Kind:      kindDebt,
		Key:       n.Key,
		Processed: n.IsProcessed,
		Apply: func(ctx context.Context) error {
			return m.applyMirror(ctx, n)
		},
		MarkProcessed: func(ctx context.Context) error {
			return m.deps.Mailbox.Update(ctx, ev.Path, map[string]any{"isProcessed": true})
		},
	})
	m.logger.Debug("Debt notification handled", "key", n.Key, "outcome", outcome)
}

func (m *DebtMirror) applyMirror(ctx context.Context, n models.DebtNotification) error {
	createdAt := n.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	debt := &models.Debt{
		ID:              MirroredDebtID(n.SenderID, n.DebtID),
		Type:            n.Type.Flip(),
		PersonName:      n.SenderName,
		Description:     n.Description,
		TotalAmount:     n.TotalAmount,
		RemainingAmount: n.RemainingAmount,
		IsSettled:       n.RemainingAmount == 0,
		LinkedFriendID:  n.SenderID,
		SourceDebtID:    n.DebtID,
		IsMirrored:      true,
		DueDate:         n.DueDate,
		CreatedAt:       createdAt,
	}
	inserted, err := m.deps.Store.InsertDebtIfAbsent(ctx, debt)
	if err != nil {
		return err
	}
	if inserted {
		m.logger.Info("Debt mirrored", "debt_id", debt.ID, "type", debt.Type, "sender", n.SenderID, "amount", n.TotalAmount)
	} else {
		m.logger.Debug("Debt already mirrored", "debt_id", debt.ID)
	}
	return nil
}
