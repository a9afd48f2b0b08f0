package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

// CreateAccount persists a new account. A new default account replaces the
// previous default.
func (s *SQLiteStore) CreateAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.CreatedAt == 0 {
		account.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if account.IsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE accounts SET is_default = 0 WHERE is_default = 1"); err != nil {
			return fmt.Errorf("failed to clear default account: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO accounts (id, name, balance, is_default, created_at) VALUES (?, ?, ?, ?, ?)",
		account.ID, account.Name, account.Balance, boolToInt(account.IsDefault), account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getAccount(ctx context.Context, where string, args ...any) (*models.Account, error) {
	a := &models.Account{}
	var isDefault int
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, balance, is_default, created_at FROM accounts WHERE "+where,
		args...,
	).Scan(&a.ID, &a.Name, &a.Balance, &isDefault, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.IsDefault = isDefault != 0
	return a, nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := s.getAccount(ctx, "id = ?", accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", accountID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// GetDefaultAccount retrieves the account marked as default.
func (s *SQLiteStore) GetDefaultAccount(ctx context.Context) (*models.Account, error) {
	a, err := s.getAccount(ctx, "is_default = 1 LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("default account: %w", storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get default account: %w", err)
	}
	return a, nil
}

// BookIncome records an income transaction and credits its account.
func (s *SQLiteStore) BookIncome(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	if txn.CreatedAt == 0 {
		txn.CreatedAt = time.Now().Unix()
	}
	txn.Type = models.TransactionIncome

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, type, category, amount, note, idempotency_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(idempotency_key) DO NOTHING`,
		txn.ID, txn.AccountID, string(txn.Type), txn.Category, txn.Amount, txn.Note,
		nullString(txn.IdempotencyKey), txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transaction %s: %w", txn.IdempotencyKey, storage.ErrDuplicate)
	}

	res, err = tx.ExecContext(ctx,
		"UPDATE accounts SET balance = balance + ? WHERE id = ?",
		txn.Amount, txn.AccountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account balance: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return fmt.Errorf("account %s: %w", txn.AccountID, storage.ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTransactions retrieves all transactions of an account, newest first.
func (s *SQLiteStore) ListTransactions(ctx context.Context, accountID string) ([]models.Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, type, category, amount, note, idempotency_key, created_at
		 FROM transactions WHERE account_id = ? ORDER BY created_at DESC, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var txType string
		var key sql.NullString
		if err := rows.Scan(&t.ID, &t.AccountID, &txType, &t.Category, &t.Amount, &t.Note, &key, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = models.TransactionType(txType)
		if key.Valid {
			t.IdempotencyKey = key.String
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}
