package service

import "github.com/Harry0M/oikos-sub001/internal/models"

// Group is the wire form of models.Group.
type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

type Member struct {
	ID            string `json:"id"`
	GroupID       string `json:"groupId"`
	Name          string `json:"name"`
	IsCurrentUser bool   `json:"isCurrentUser"`
}

type Share struct {
	MemberID string  `json:"memberId"`
	Amount   float64 `json:"amount"`
}

type Expense struct {
	ID          string  `json:"id"`
	GroupID     string  `json:"groupId"`
	PayerID     string  `json:"payerId"`
	Description string  `json:"description"`
	TotalAmount float64 `json:"totalAmount"`
	Shares      []Share `json:"shares"`
	CreatedAt   int64   `json:"createdAt"`
}

type Settlement struct {
	ID           string  `json:"id"`
	GroupID      string  `json:"groupId"`
	FromMemberID string  `json:"fromMemberId"`
	ToMemberID   string  `json:"toMemberId"`
	Amount       float64 `json:"amount"`
	Note         string  `json:"note,omitempty"`
	CreatedAt    int64   `json:"createdAt"`
}

type MemberBalance struct {
	MemberID   string  `json:"memberId"`
	MemberName string  `json:"memberName"`
	Balance    float64 `json:"balance"` // Positive = owed money, Negative = owes money
}

type Transfer struct {
	FromMemberID string  `json:"fromMemberId"`
	ToMemberID   string  `json:"toMemberId"`
	Amount       float64 `json:"amount"`
}

type Debt struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	PersonName      string  `json:"personName"`
	Description     string  `json:"description,omitempty"`
	TotalAmount     float64 `json:"totalAmount"`
	RemainingAmount float64 `json:"remainingAmount"`
	IsSettled       bool    `json:"isSettled"`
	LinkedFriendID  string  `json:"linkedFriendId,omitempty"`
	IsMirrored      bool    `json:"isMirrored"`
	DueDate         int64   `json:"dueDate,omitempty"`
	CreatedAt       int64   `json:"createdAt"`
}

type DebtPayment struct {
	ID        string  `json:"id"`
	DebtID    string  `json:"debtId"`
	Amount    float64 `json:"amount"`
	Note      string  `json:"note,omitempty"`
	CreatedAt int64   `json:"createdAt"`
}

type Account struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Balance   float64 `json:"balance"`
	IsDefault bool    `json:"isDefault"`
	CreatedAt int64   `json:"createdAt"`
}

type Transaction struct {
	ID        string  `json:"id"`
	AccountID string  `json:"accountId"`
	Type      string  `json:"type"`
	Category  string  `json:"category"`
	Amount    float64 `json:"amount"`
	Note      string  `json:"note,omitempty"`
	CreatedAt int64   `json:"createdAt"`
}

type CreateGroupRequest struct {
	Name string `json:"name"`
	// Members are display names; CurrentUser names the member that is this device's user.
	Members     []string `json:"members"`
	CurrentUser string   `json:"currentUser,omitempty"`
}

type CreateGroupResponse struct {
	Group   Group    `json:"group"`
	Members []Member `json:"members"`
}

type AddMemberRequest struct {
	GroupID       string `json:"groupId"`
	Name          string `json:"name"`
	IsCurrentUser bool   `json:"isCurrentUser"`
}

type AddMemberResponse struct {
	Member Member `json:"member"`
}

type CreateExpenseRequest struct {
	GroupID     string  `json:"groupId"`
	PayerID     string  `json:"payerId"`
	Description string  `json:"description"`
	TotalAmount float64 `json:"totalAmount"`
	// Shares may be empty, in which case the total is split equally among
	// the group's current members.
	Shares []Share `json:"shares,omitempty"`
}

type CreateExpenseResponse struct {
	Expense Expense `json:"expense"`
}

type CreateSettlementRequest struct {
	GroupID      string  `json:"groupId"`
	FromMemberID string  `json:"fromMemberId"`
	ToMemberID   string  `json:"toMemberId"`
	Amount       float64 `json:"amount"`
	Note         string  `json:"note,omitempty"`
}

type CreateSettlementResponse struct {
	Settlement Settlement `json:"settlement"`
}

type GetGroupBalancesRequest struct {
	GroupID string `json:"groupId"`
}

type GetGroupBalancesResponse struct {
	Balances  []MemberBalance `json:"balances"`
	Suggested []Transfer      `json:"suggested"`
	Skipped   int             `json:"skipped,omitempty"`
}

type CreateDebtRequest struct {
	Type           string  `json:"type"`
	PersonName     string  `json:"personName"`
	Description    string  `json:"description,omitempty"`
	TotalAmount    float64 `json:"totalAmount"`
	DueDate        int64   `json:"dueDate,omitempty"`
	LinkedFriendID string  `json:"linkedFriendId,omitempty"`
	// SenderName overrides the display name shown to the linked friend.
	SenderName string `json:"senderName,omitempty"`
}

type CreateDebtResponse struct {
	Debt Debt `json:"debt"`
	// Queued is true when a notification for the linked friend was queued.
	Queued bool `json:"queued"`
}

type RecordDebtPaymentRequest struct {
	DebtID string  `json:"debtId"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note,omitempty"`
}

type RecordDebtPaymentResponse struct {
	Debt    Debt        `json:"debt"`
	Payment DebtPayment `json:"payment"`
	Queued  bool        `json:"queued"`
}

type ListDebtsRequest struct{}

type ListDebtsResponse struct {
	Debts []Debt `json:"debts"`
}

type DismissSyncedDebtRequest struct {
	DebtID string `json:"debtId"`
}

type DismissSyncedDebtResponse struct{}

type CreateAccountRequest struct {
	Name      string  `json:"name"`
	Balance   float64 `json:"balance"`
	IsDefault bool    `json:"isDefault"`
}

type CreateAccountResponse struct {
	Account Account `json:"account"`
}

type ListTransactionsRequest struct {
	AccountID string `json:"accountId"`
}

type ListTransactionsResponse struct {
	Transactions []Transaction `json:"transactions"`
}

type SignOutRequest struct{}

type SignOutResponse struct{}

func groupToWire(g models.Group) Group {
	return Group{ID: g.ID, Name: g.Name, CreatedAt: g.CreatedAt}
}

func memberToWire(m models.GroupMember) Member {
	return Member{ID: m.ID, GroupID: m.GroupID, Name: m.Name, IsCurrentUser: m.IsCurrentUser}
}

func settlementToWire(s models.Settlement) Settlement {
	return Settlement{
		ID:           s.ID,
		GroupID:      s.GroupID,
		FromMemberID: s.FromMemberID,
		ToMemberID:   s.ToMemberID,
		Amount:       s.Amount,
		Note:         s.Note,
		CreatedAt:    s.CreatedAt,
	}
}

func debtToWire(d models.Debt) Debt {
	return Debt{
		ID:              d.ID,
		Type:            string(d.Type),
		PersonName:      d.PersonName,
		Description:     d.Description,
		TotalAmount:     d.TotalAmount,
		RemainingAmount: d.RemainingAmount,
		IsSettled:       d.IsSettled,
		LinkedFriendID:  d.LinkedFriendID,
		IsMirrored:      d.IsMirrored,
		DueDate:         d.DueDate,
		CreatedAt:       d.CreatedAt,
	}
}

func accountToWire(a models.Account) Account {
	return Account{ID: a.ID, Name: a.Name, Balance: a.Balance, IsDefault: a.IsDefault, CreatedAt: a.CreatedAt}
}

func transactionToWire(t models.Transaction) Transaction {
	return Transaction{
		ID:        t.ID,
		AccountID: t.AccountID,
		Type:      string(t.Type),
		Category:  t.Category,
		Amount:    t.Amount,
		Note:      t.Note,
		CreatedAt: t.CreatedAt,
	}
}
