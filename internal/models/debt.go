package models

// DebtType tells which side of a person-to-person obligation the local user is on.
type DebtType string

const (
	// DebtTypeDebt means "I owe".
	DebtTypeDebt DebtType = "DEBT"
	// DebtTypeCredit means "owed to me".
	DebtTypeCredit DebtType = "CREDIT"
)

// Valid reports whether t is one of the known debt types.
func (t DebtType) Valid() bool {
	return t == DebtTypeDebt || t == DebtTypeCredit
}

// Flip returns the counterpart's view of the same obligation.
func (t DebtType) Flip() DebtType {
	if t == DebtTypeDebt {
		return DebtTypeCredit
	}
	return DebtTypeDebt
}

// Debt is a person-to-person obligation.
type Debt struct {
	// ID is the unique identifier for the debt (UUID format).
	ID string

	// Type is DEBT ("I owe") or CREDIT ("owed to me").
	Type DebtType

	// PersonName is the other party's display name.
	PersonName string

	// Description is an optional note about what the debt is for.
	Description string

	// TotalAmount is the original amount of the obligation.
	TotalAmount float64

	// RemainingAmount is TotalAmount minus all payments. Never negative.
	RemainingAmount float64

	// IsSettled becomes true once RemainingAmount reaches zero.
	IsSettled bool

	// LinkedFriendID is the counterpart's user ID when the debt is mirrored
	// to (or from) their device. Empty for purely local debts.
	LinkedFriendID string

	// SourceDebtID is the sender's debt ID for a mirrored debt.
	SourceDebtID string

	// IsMirrored is true when the debt was created from an inbound notification.
	IsMirrored bool

	// DueDate is an optional Unix timestamp; zero means none.
	DueDate int64

	// CreatedAt is the Unix timestamp when the debt was recorded.
	CreatedAt int64
}

// DebtPayment is a partial or full payment against a Debt.
type DebtPayment struct {
	ID        string
	DebtID    string
	Amount    float64
	Note      string
	CreatedAt int64
}
