package models

// SplitExpense represents a shared cost paid by one group member.
type SplitExpense struct {
	// ID is the unique identifier for the expense (UUID format).
	ID string

	// GroupID is the group this expense belongs to.
	GroupID string

	// PayerID is the member who paid the full amount.
	PayerID string

	// Description is a human-readable label (e.g., "Groceries").
	Description string

	// TotalAmount is the full cost of the expense.
	TotalAmount float64

	// CreatedAt is the Unix timestamp when the expense was recorded.
	CreatedAt int64
}

// ExpenseShare is one member's portion of a SplitExpense.
// Shares are persisted when the expense is created and are never recomputed
// from the group's current membership.
type ExpenseShare struct {
	ExpenseID string
	MemberID  string
	Amount    float64
}

// MemberBalance is the derived net position of a member within a group.
// It is computed at query time and never stored.
type MemberBalance struct {
	MemberID   string
	MemberName string
	Balance    float64 // Positive = owed money, Negative = owes money
}

// SuggestedTransfer is one payment that would move a group towards zero balances.
type SuggestedTransfer struct {
	FromMemberID string // Member who owes
	ToMemberID   string // Member who is owed
	Amount       float64
}
