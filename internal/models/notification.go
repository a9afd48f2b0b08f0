package models

// DebtNotification is the relay payload that lets a counterpart mirror a Debt.
// It is written into users/{counterpart}/debt_notifications/{Key}.
type DebtNotification struct {
	// Key is the mailbox key, derived from the sender's debt ID.
	Key string `json:"-"`

	DebtID          string   `json:"debtId"`
	SenderID        string   `json:"senderId"`
	SenderName      string   `json:"senderName"`
	Type            DebtType `json:"type"`
	TotalAmount     float64  `json:"totalAmount"`
	RemainingAmount float64  `json:"remainingAmount"`
	Description     string   `json:"description"`
	DueDate         int64    `json:"dueDate"`
	CreatedAt       int64    `json:"createdAt"`
	IsProcessed     bool     `json:"isProcessed"`
}

// SettlementNotification tells a counterpart that a payment was made to them.
// It is written into users/{counterpart}/settlement_notifications/{Key}.
type SettlementNotification struct {
	// Key is the mailbox key, derived from the sender's payment ID.
	Key string `json:"-"`

	SettlementID string  `json:"settlementId"`
	DebtID       string  `json:"debtId"`
	SenderID     string  `json:"senderId"`
	SenderName   string  `json:"senderName"`
	Amount       float64 `json:"amount"`
	Note         string  `json:"note"`
	CreatedAt    int64   `json:"createdAt"`
	IsProcessed  bool    `json:"isProcessed"`
}
