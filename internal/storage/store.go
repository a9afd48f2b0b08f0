// Package storage provides abstractions for the device's ledger store.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

var (
	// ErrNotFound is returned when a point query matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write collides with a unique key.
	ErrDuplicate = errors.New("duplicate")
)

// GroupStore holds split groups and their members.
type GroupStore interface {
	// CreateGroup persists the group and its initial members atomically.
	CreateGroup(ctx context.Context, group *models.Group, members ...*models.GroupMember) error
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)
	AddGroupMember(ctx context.Context, member *models.GroupMember) error
	ListGroupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error)
}

// ExpenseStore holds expenses, their persisted shares, and settlements.
type ExpenseStore interface {
	// CreateExpense persists the expense and all of its shares atomically.
	CreateExpense(ctx context.Context, expense *models.SplitExpense, shares []models.ExpenseShare) error
	ListExpensesByGroup(ctx context.Context, groupID string) ([]models.SplitExpense, error)
	ListSharesByGroup(ctx context.Context, groupID string) ([]models.ExpenseShare, error)

	CreateSettlement(ctx context.Context, settlement *models.Settlement) error
	ListSettlementsByGroup(ctx context.Context, groupID string) ([]models.Settlement, error)
}

// DebtStore holds person-to-person debts and payments against them.
type DebtStore interface {
	CreateDebt(ctx context.Context, debt *models.Debt) error

	// InsertDebtIfAbsent inserts debt unless a debt with the same ID exists.
	// It reports whether a row was written.
	InsertDebtIfAbsent(ctx context.Context, debt *models.Debt) (bool, error)

	GetDebt(ctx context.Context, debtID string) (*models.Debt, error)
	ListDebts(ctx context.Context) ([]models.Debt, error)
	DeleteDebt(ctx context.Context, debtID string) error

	// RecordDebtPayment stores the payment and reduces the debt's remaining
	// amount in one transaction, returning the updated debt.
	RecordDebtPayment(ctx context.Context, payment *models.DebtPayment) (*models.Debt, error)
	ListDebtPayments(ctx context.Context, debtID string) ([]models.DebtPayment, error)
}

// AccountStore holds the user's financial accounts and their transactions.
type AccountStore interface {
	// CreateAccount persists a new account. If it is marked default, any
	// previous default loses the flag.
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)

	// GetDefaultAccount returns ErrNotFound when no account is marked default.
	GetDefaultAccount(ctx context.Context) (*models.Account, error)

	// BookIncome inserts an income transaction and credits the account balance
	// in one transaction. A reused idempotency key returns ErrDuplicate and
	// changes nothing.
	BookIncome(ctx context.Context, txn *models.Transaction) error
	ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error)
}

// OutboxStore holds pending relay writes.
type OutboxStore interface {
	// EnqueueOutbox inserts or replaces the entry for entry.Path, resetting
	// its retry state.
	EnqueueOutbox(ctx context.Context, entry *models.OutboxEntry) error
	ListDueOutbox(ctx context.Context, now time.Time, limit int) ([]models.OutboxEntry, error)
	MarkOutboxFailed(ctx context.Context, path string, revision int64, attempts int, next time.Time, lastErr string) error

	// DeleteOutbox removes the entry only if it still has the given revision.
	DeleteOutbox(ctx context.Context, path string, revision int64) error
	CountOutbox(ctx context.Context) (int, error)
}

// LedgerStore is the per-device system of record.
// This abstraction allows swapping storage backends without changing the
// service or sync layers.
type LedgerStore interface {
	GroupStore
	ExpenseStore
	DebtStore
	AccountStore
	OutboxStore

	// Close releases any resources held by the store.
	Close() error
}
