package models

// TransactionType distinguishes money coming in from money going out.
type TransactionType string

const (
	TransactionIncome  TransactionType = "income"
	TransactionExpense TransactionType = "expense"
)

// CategoryDebtSettlement is the fixed category for transactions booked from
// inbound settlement notifications.
const CategoryDebtSettlement = "Debt Settlement"

// Account is one of the user's financial accounts.
type Account struct {
	ID        string
	Name      string
	Balance   float64
	IsDefault bool
	CreatedAt int64
}

// Transaction is a booking against an Account.
type Transaction struct {
	ID        string
	AccountID string
	Type      TransactionType
	Category  string
	Amount    float64
	Note      string

	// IdempotencyKey, when set, is unique across all transactions. Bookings
	// derived from relay notifications use it so a replay cannot book twice.
	IdempotencyKey string

	CreatedAt int64
}
