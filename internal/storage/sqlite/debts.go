package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Harry0M/oikos-sub001/internal/calculator"
	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

const debtColumns = `id, type, person_name, description, total_amount, remaining_amount, is_settled,
	linked_friend_id, source_debt_id, is_mirrored, due_date, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDebt(row rowScanner) (*models.Debt, error) {
	d := &models.Debt{}
	var debtType string
	var settled, mirrored int
	if err := row.Scan(&d.ID, &debtType, &d.PersonName, &d.Description, &d.TotalAmount, &d.RemainingAmount,
		&settled, &d.LinkedFriendID, &d.SourceDebtID, &mirrored, &d.DueDate, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.Type = models.DebtType(debtType)
	d.IsSettled = settled != 0
	d.IsMirrored = mirrored != 0
	return d, nil
}

func prepareDebt(debt *models.Debt) {
	if debt.ID == "" {
		debt.ID = uuid.New().String()
	}
	if debt.CreatedAt == 0 {
		debt.CreatedAt = time.Now().Unix()
	}
}

func debtArgs(d *models.Debt) []any {
	return []any{d.ID, string(d.Type), d.PersonName, d.Description, d.TotalAmount, d.RemainingAmount,
		boolToInt(d.IsSettled), d.LinkedFriendID, d.SourceDebtID, boolToInt(d.IsMirrored), d.DueDate, d.CreatedAt}
}

// CreateDebt persists a new debt to the database.
func (s *SQLiteStore) CreateDebt(ctx context.Context, debt *models.Debt) error {
	prepareDebt(debt)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO debts ("+debtColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		debtArgs(debt)...,
	)
	if err != nil {
		return fmt.Errorf("failed to insert debt: %w", err)
	}
	return nil
}

// InsertDebtIfAbsent inserts debt unless its ID is already taken.
func (s *SQLiteStore) InsertDebtIfAbsent(ctx context.Context, debt *models.Debt) (bool, error) {
	prepareDebt(debt)

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO debts ("+debtColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
		debtArgs(debt)...,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert debt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// GetDebt retrieves a debt by ID.
func (s *SQLiteStore) GetDebt(ctx context.Context, debtID string) (*models.Debt, error) {
	debt, err := scanDebt(s.db.QueryRowContext(ctx,
		"SELECT "+debtColumns+" FROM debts WHERE id = ?", debtID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("debt %s: %w", debtID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get debt: %w", err)
	}
	return debt, nil
}

// ListDebts retrieves all debts, newest first.
func (s *SQLiteStore) ListDebts(ctx context.Context) ([]models.Debt, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+debtColumns+" FROM debts ORDER BY created_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list debts: %w", err)
	}
	defer rows.Close()

	var debts []models.Debt
	for rows.Next() {
		debt, err := scanDebt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		debts = append(debts, *debt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate debts: %w", err)
	}
	return debts, nil
}

// DeleteDebt removes a debt and its payments by ID.
func (s *SQLiteStore) DeleteDebt(ctx context.Context, debtID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM debts WHERE id = ?", debtID)
	if err != nil {
		return fmt.Errorf("failed to delete debt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("debt %s: %w", debtID, storage.ErrNotFound)
	}
	return nil
}

// RecordDebtPayment stores a payment and applies it to the debt.
func (s *SQLiteStore) RecordDebtPayment(ctx context.Context, payment *models.DebtPayment) (*models.Debt, error) {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.CreatedAt == 0 {
		payment.CreatedAt = time.Now().Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	debt, err := scanDebt(tx.QueryRowContext(ctx,
		"SELECT "+debtColumns+" FROM debts WHERE id = ?", payment.DebtID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("debt %s: %w", payment.DebtID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get debt: %w", err)
	}

	updated, err := calculator.ApplyPayment(*debt, payment.Amount)
	if err != nil {
		return nil, err
	}
	payment.Amount = calculator.RoundCents(payment.Amount)

	_, err = tx.ExecContext(ctx,
		"INSERT INTO debt_payments (id, debt_id, amount, note, created_at) VALUES (?, ?, ?, ?, ?)",
		payment.ID, payment.DebtID, payment.Amount, payment.Note, payment.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert debt payment: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE debts SET remaining_amount = ?, is_settled = ? WHERE id = ?",
		updated.RemainingAmount, boolToInt(updated.IsSettled), updated.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update debt: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &updated, nil
}

// ListDebtPayments retrieves all payments against a debt, oldest first.
func (s *SQLiteStore) ListDebtPayments(ctx context.Context, debtID string) ([]models.DebtPayment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, debt_id, amount, note, created_at FROM debt_payments WHERE debt_id = ? ORDER BY created_at, id",
		debtID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list debt payments: %w", err)
	}
	defer rows.Close()

	var payments []models.DebtPayment
	for rows.Next() {
		var p models.DebtPayment
		if err := rows.Scan(&p.ID, &p.DebtID, &p.Amount, &p.Note, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan debt payment: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate debt payments: %w", err)
	}
	return payments, nil
}
