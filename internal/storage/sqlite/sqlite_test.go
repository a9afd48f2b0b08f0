package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestGroupsAndExpenses(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := &models.Group{Name: "Trip"}
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.ID == "" || group.CreatedAt == 0 {
		t.Fatalf("Expected ID and CreatedAt to be generated, got %+v", group)
	}

	names := []string{"Carol", "Alice", "Bob"}
	ids := make(map[string]string)
	for _, name := range names {
		m := &models.GroupMember{GroupID: group.ID, Name: name, IsCurrentUser: name == "Alice"}
		if err := store.AddGroupMember(ctx, m); err != nil {
			t.Fatalf("AddGroupMember failed: %v", err)
		}
		ids[name] = m.ID
	}

	t.Run("GetGroup returns stored group", func(t *testing.T) {
		got, err := store.GetGroup(ctx, group.ID)
		if err != nil {
			t.Fatalf("GetGroup failed: %v", err)
		}
		if got.Name != "Trip" {
			t.Errorf("Name mismatch: got %s, want Trip", got.Name)
		}
	})

	t.Run("GetGroup returns ErrNotFound", func(t *testing.T) {
		_, err := store.GetGroup(ctx, "nonexistent-id")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListGroupMembers is ordered by name", func(t *testing.T) {
		members, err := store.ListGroupMembers(ctx, group.ID)
		if err != nil {
			t.Fatalf("ListGroupMembers failed: %v", err)
		}
		if len(members) != 3 {
			t.Fatalf("Expected 3 members, got %d", len(members))
		}
		if members[0].Name != "Alice" || !members[0].IsCurrentUser {
			t.Errorf("Expected Alice first and current user, got %+v", members[0])
		}
		if members[2].Name != "Carol" {
			t.Errorf("Expected Carol last, got %s", members[2].Name)
		}
	})

	t.Run("CreateExpense persists shares", func(t *testing.T) {
		expense := &models.SplitExpense{GroupID: group.ID, PayerID: ids["Alice"], Description: "Hotel", TotalAmount: 300}
		shares := []models.ExpenseShare{
			{MemberID: ids["Alice"], Amount: 100},
			{MemberID: ids["Bob"], Amount: 100},
			{MemberID: ids["Carol"], Amount: 100},
		}
		if err := store.CreateExpense(ctx, expense, shares); err != nil {
			t.Fatalf("CreateExpense failed: %v", err)
		}

		expenses, err := store.ListExpensesByGroup(ctx, group.ID)
		if err != nil {
			t.Fatalf("ListExpensesByGroup failed: %v", err)
		}
		if len(expenses) != 1 || expenses[0].TotalAmount != 300 {
			t.Fatalf("Unexpected expenses: %+v", expenses)
		}

		stored, err := store.ListSharesByGroup(ctx, group.ID)
		if err != nil {
			t.Fatalf("ListSharesByGroup failed: %v", err)
		}
		if len(stored) != 3 {
			t.Fatalf("Expected 3 shares, got %d", len(stored))
		}
		for _, sh := range stored {
			if sh.ExpenseID != expense.ID {
				t.Errorf("Share attached to wrong expense: %+v", sh)
			}
		}
	})

	t.Run("CreateExpense rolls back on duplicate share", func(t *testing.T) {
		expense := &models.SplitExpense{GroupID: group.ID, PayerID: ids["Bob"], TotalAmount: 10}
		shares := []models.ExpenseShare{
			{MemberID: ids["Bob"], Amount: 5},
			{MemberID: ids["Bob"], Amount: 5},
		}
		if err := store.CreateExpense(ctx, expense, shares); err == nil {
			t.Fatal("Expected error for duplicate share")
		}
		expenses, _ := store.ListExpensesByGroup(ctx, group.ID)
		if len(expenses) != 1 {
			t.Errorf("Expected failed expense to be rolled back, got %d expenses", len(expenses))
		}
	})

	t.Run("Settlements keep optional note", func(t *testing.T) {
		s := &models.Settlement{GroupID: group.ID, FromMemberID: ids["Bob"], ToMemberID: ids["Alice"], Amount: 100}
		if err := store.CreateSettlement(ctx, s); err != nil {
			t.Fatalf("CreateSettlement failed: %v", err)
		}
		list, err := store.ListSettlementsByGroup(ctx, group.ID)
		if err != nil {
			t.Fatalf("ListSettlementsByGroup failed: %v", err)
		}
		if len(list) != 1 || list[0].Note != "" || list[0].Amount != 100 {
			t.Errorf("Unexpected settlements: %+v", list)
		}
	})
}

func TestCreateGroup_WithMembers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := &models.Group{Name: "Flat"}
	a := &models.GroupMember{Name: "A", IsCurrentUser: true}
	b := &models.GroupMember{Name: "B"}
	if err := store.CreateGroup(ctx, group, a, b); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if a.ID == "" || a.GroupID != group.ID || b.GroupID != group.ID {
		t.Fatalf("Expected member IDs and group IDs to be filled, got %+v %+v", a, b)
	}
	members, err := store.ListGroupMembers(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListGroupMembers failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("Expected 2 members, got %d", len(members))
	}

	t.Run("failed member insert leaves no group", func(t *testing.T) {
		broken := &models.Group{Name: "Broken"}
		err := store.CreateGroup(ctx, broken,
			&models.GroupMember{ID: "dup", Name: "X"},
			&models.GroupMember{ID: "dup", Name: "Y"},
		)
		if err == nil {
			t.Fatal("Expected duplicate member ID to fail")
		}
		if _, err := store.GetGroup(ctx, broken.ID); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected half-built group to be rolled back, got %v", err)
		}
		members, err := store.ListGroupMembers(ctx, broken.ID)
		if err != nil {
			t.Fatalf("ListGroupMembers failed: %v", err)
		}
		if len(members) != 0 {
			t.Errorf("Expected no members, got %d", len(members))
		}
	})
}

func TestDebts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	debt := &models.Debt{Type: models.DebtTypeDebt, PersonName: "Bob", TotalAmount: 100, RemainingAmount: 100}
	if err := store.CreateDebt(ctx, debt); err != nil {
		t.Fatalf("CreateDebt failed: %v", err)
	}

	t.Run("InsertDebtIfAbsent skips existing ID", func(t *testing.T) {
		mirrored := &models.Debt{ID: "mirror-1", Type: models.DebtTypeCredit, PersonName: "Ann", TotalAmount: 40, RemainingAmount: 40, IsMirrored: true}
		inserted, err := store.InsertDebtIfAbsent(ctx, mirrored)
		if err != nil || !inserted {
			t.Fatalf("First insert: inserted=%v err=%v", inserted, err)
		}
		again := *mirrored
		again.TotalAmount = 999
		inserted, err = store.InsertDebtIfAbsent(ctx, &again)
		if err != nil || inserted {
			t.Fatalf("Second insert: inserted=%v err=%v", inserted, err)
		}
		got, err := store.GetDebt(ctx, "mirror-1")
		if err != nil {
			t.Fatalf("GetDebt failed: %v", err)
		}
		if got.TotalAmount != 40 || !got.IsMirrored || got.Type != models.DebtTypeCredit {
			t.Errorf("Unexpected mirrored debt: %+v", got)
		}
	})

	t.Run("RecordDebtPayment reduces remaining amount", func(t *testing.T) {
		updated, err := store.RecordDebtPayment(ctx, &models.DebtPayment{DebtID: debt.ID, Amount: 60})
		if err != nil {
			t.Fatalf("RecordDebtPayment failed: %v", err)
		}
		if updated.RemainingAmount != 40 || updated.IsSettled {
			t.Errorf("Unexpected debt after partial payment: %+v", updated)
		}

		updated, err = store.RecordDebtPayment(ctx, &models.DebtPayment{DebtID: debt.ID, Amount: 40})
		if err != nil {
			t.Fatalf("RecordDebtPayment failed: %v", err)
		}
		if updated.RemainingAmount != 0 || !updated.IsSettled {
			t.Errorf("Expected debt to be settled, got %+v", updated)
		}

		payments, err := store.ListDebtPayments(ctx, debt.ID)
		if err != nil {
			t.Fatalf("ListDebtPayments failed: %v", err)
		}
		if len(payments) != 2 {
			t.Errorf("Expected 2 payments, got %d", len(payments))
		}
	})

	t.Run("RecordDebtPayment rejects payment on settled debt", func(t *testing.T) {
		_, err := store.RecordDebtPayment(ctx, &models.DebtPayment{DebtID: debt.ID, Amount: 1})
		if err == nil {
			t.Fatal("Expected error for payment on settled debt")
		}
		payments, _ := store.ListDebtPayments(ctx, debt.ID)
		if len(payments) != 2 {
			t.Errorf("Rejected payment must not be stored, got %d payments", len(payments))
		}
	})

	t.Run("RecordDebtPayment returns ErrNotFound", func(t *testing.T) {
		_, err := store.RecordDebtPayment(ctx, &models.DebtPayment{DebtID: "nope", Amount: 1})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("DeleteDebt", func(t *testing.T) {
		if err := store.DeleteDebt(ctx, "mirror-1"); err != nil {
			t.Fatalf("DeleteDebt failed: %v", err)
		}
		if err := store.DeleteDebt(ctx, "mirror-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound on second delete, got %v", err)
		}
		debts, err := store.ListDebts(ctx)
		if err != nil {
			t.Fatalf("ListDebts failed: %v", err)
		}
		if len(debts) != 1 {
			t.Errorf("Expected 1 debt left, got %d", len(debts))
		}
	})
}

func TestRecordDebtPayment_StoresCents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	debt := &models.Debt{Type: models.DebtTypeCredit, PersonName: "Cy", TotalAmount: 50, RemainingAmount: 50}
	if err := store.CreateDebt(ctx, debt); err != nil {
		t.Fatalf("CreateDebt failed: %v", err)
	}
	updated, err := store.RecordDebtPayment(ctx, &models.DebtPayment{DebtID: debt.ID, Amount: 50.004})
	if err != nil {
		t.Fatalf("RecordDebtPayment failed: %v", err)
	}
	if !updated.IsSettled || updated.RemainingAmount != 0 {
		t.Errorf("Expected settled debt, got %+v", updated)
	}

	payments, err := store.ListDebtPayments(ctx, debt.ID)
	if err != nil {
		t.Fatalf("ListDebtPayments failed: %v", err)
	}
	if len(payments) != 1 || payments[0].Amount != 50 {
		t.Errorf("Expected one payment of 50, got %+v", payments)
	}
}

func TestAccounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("GetDefaultAccount returns ErrNotFound when none", func(t *testing.T) {
		_, err := store.GetDefaultAccount(ctx)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	first := &models.Account{Name: "Cash", IsDefault: true}
	second := &models.Account{Name: "Bank", IsDefault: true}
	for _, a := range []*models.Account{first, second} {
		if err := store.CreateAccount(ctx, a); err != nil {
			t.Fatalf("CreateAccount failed: %v", err)
		}
	}

	t.Run("Newest default wins", func(t *testing.T) {
		def, err := store.GetDefaultAccount(ctx)
		if err != nil {
			t.Fatalf("GetDefaultAccount failed: %v", err)
		}
		if def.ID != second.ID {
			t.Errorf("Expected %s to be default, got %s", second.ID, def.ID)
		}
		old, err := store.GetAccount(ctx, first.ID)
		if err != nil {
			t.Fatalf("GetAccount failed: %v", err)
		}
		if old.IsDefault {
			t.Error("Expected previous default to lose the flag")
		}
	})

	t.Run("BookIncome is idempotent by key", func(t *testing.T) {
		txn := &models.Transaction{AccountID: second.ID, Category: models.CategoryDebtSettlement, Amount: 25, IdempotencyKey: "settlement:u1:p1"}
		if err := store.BookIncome(ctx, txn); err != nil {
			t.Fatalf("BookIncome failed: %v", err)
		}
		dup := &models.Transaction{AccountID: second.ID, Category: models.CategoryDebtSettlement, Amount: 25, IdempotencyKey: "settlement:u1:p1"}
		if err := store.BookIncome(ctx, dup); !errors.Is(err, storage.ErrDuplicate) {
			t.Fatalf("Expected ErrDuplicate, got %v", err)
		}

		acct, err := store.GetAccount(ctx, second.ID)
		if err != nil {
			t.Fatalf("GetAccount failed: %v", err)
		}
		if acct.Balance != 25 {
			t.Errorf("Expected balance 25, got %f", acct.Balance)
		}

		txns, err := store.ListTransactions(ctx, second.ID)
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(txns) != 1 || txns[0].Type != models.TransactionIncome || txns[0].IdempotencyKey != "settlement:u1:p1" {
			t.Errorf("Unexpected transactions: %+v", txns)
		}
	})

	t.Run("BookIncome without key never collides", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := store.BookIncome(ctx, &models.Transaction{AccountID: first.ID, Category: "Salary", Amount: 10}); err != nil {
				t.Fatalf("BookIncome failed: %v", err)
			}
		}
		txns, _ := store.ListTransactions(ctx, first.ID)
		if len(txns) != 2 {
			t.Errorf("Expected 2 transactions, got %d", len(txns))
		}
	})

	t.Run("BookIncome on missing account leaves no transaction", func(t *testing.T) {
		err := store.BookIncome(ctx, &models.Transaction{AccountID: "missing", Category: "x", Amount: 1, IdempotencyKey: "k-missing"})
		if err == nil {
			t.Fatal("Expected error for missing account")
		}
		retry := &models.Transaction{AccountID: second.ID, Category: "x", Amount: 1, IdempotencyKey: "k-missing"}
		if err := store.BookIncome(ctx, retry); err != nil {
			t.Errorf("Expected key to be free after rollback, got %v", err)
		}
	})
}

func TestOutbox(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	entry := &models.OutboxEntry{Path: "users/bob/debt_notifications/d1", Payload: []byte(`{"a":1}`)}
	if err := store.EnqueueOutbox(ctx, entry); err != nil {
		t.Fatalf("EnqueueOutbox failed: %v", err)
	}
	if entry.Revision != 1 {
		t.Fatalf("Expected revision 1, got %d", entry.Revision)
	}

	t.Run("Failed entry is not due until backoff elapses", func(t *testing.T) {
		next := now.Add(time.Minute)
		if err := store.MarkOutboxFailed(ctx, entry.Path, entry.Revision, 1, next, "boom"); err != nil {
			t.Fatalf("MarkOutboxFailed failed: %v", err)
		}
		due, err := store.ListDueOutbox(ctx, now.Add(time.Second), 10)
		if err != nil {
			t.Fatalf("ListDueOutbox failed: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("Expected nothing due, got %d", len(due))
		}
		due, _ = store.ListDueOutbox(ctx, next.Add(time.Second), 10)
		if len(due) != 1 || due[0].Attempts != 1 || due[0].LastError != "boom" {
			t.Errorf("Unexpected due entries: %+v", due)
		}
	})

	t.Run("Re-enqueue bumps revision and protects newer payload", func(t *testing.T) {
		newer := &models.OutboxEntry{Path: entry.Path, Payload: []byte(`{"a":2}`)}
		if err := store.EnqueueOutbox(ctx, newer); err != nil {
			t.Fatalf("EnqueueOutbox failed: %v", err)
		}
		if newer.Revision != 2 {
			t.Fatalf("Expected revision 2, got %d", newer.Revision)
		}

		// A flush of the stale revision must not remove the new payload.
		if err := store.DeleteOutbox(ctx, entry.Path, 1); err != nil {
			t.Fatalf("DeleteOutbox failed: %v", err)
		}
		n, _ := store.CountOutbox(ctx)
		if n != 1 {
			t.Fatalf("Expected 1 pending entry, got %d", n)
		}

		due, _ := store.ListDueOutbox(ctx, time.Now().Add(time.Second), 10)
		if len(due) != 1 || string(due[0].Payload) != `{"a":2}` || due[0].Attempts != 0 {
			t.Errorf("Unexpected due entries: %+v", due)
		}

		if err := store.DeleteOutbox(ctx, entry.Path, 2); err != nil {
			t.Fatalf("DeleteOutbox failed: %v", err)
		}
		n, _ = store.CountOutbox(ctx)
		if n != 0 {
			t.Errorf("Expected empty outbox, got %d", n)
		}
	})
}
