// Package service implements the device node's Connect API over the ledger
// store and the sync session.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/Harry0M/oikos-sub001/internal/calculator"
	"github.com/Harry0M/oikos-sub001/internal/middleware"
	"github.com/Harry0M/oikos-sub001/internal/mirror"
	"github.com/Harry0M/oikos-sub001/internal/models"
	"github.com/Harry0M/oikos-sub001/internal/session"
	"github.com/Harry0M/oikos-sub001/internal/storage"
)

// LedgerService implements the ledger.v1.LedgerService procedures.
type LedgerService struct {
	store    storage.LedgerStore
	sessions *session.Manager
}

// NewLedgerService creates a LedgerService. sessions may be nil, in which
// case the node never syncs.
func NewLedgerService(store storage.LedgerStore, sessions *session.Manager) *LedgerService {
	return &LedgerService{store: store, sessions: sessions}
}

func (s *LedgerService) currentSession() *session.Session {
	if s.sessions == nil {
		return nil
	}
	return s.sessions.Current()
}

// storeError maps storage and calculator errors to Connect codes.
func storeError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, storage.ErrDuplicate):
		return connect.NewError(connect.CodeAlreadyExists, err)
	case errors.Is(err, calculator.ErrInvalidAmount),
		errors.Is(err, calculator.ErrOverpayment),
		errors.Is(err, calculator.ErrAlreadySettled),
		errors.Is(err, calculator.ErrPayerNotMember),
		errors.Is(err, calculator.ErrNoMembers),
		errors.Is(err, calculator.ErrSharesMismatch),
		errors.Is(err, calculator.ErrNegativeShare):
		return connect.NewError(connect.CodeInvalidArgument, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

func invalidArgument(format string, args ...any) error {
	return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf(format, args...))
}

// CreateGroup creates a group together with its initial members.
func (s *LedgerService) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error) {
	slog.Info("CreateGroup request received",
		"name", req.Msg.Name,
		"members_count", len(req.Msg.Members),
	)

	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		return nil, invalidArgument("group name is required")
	}

	var members []*models.GroupMember
	seen := make(map[string]bool, len(req.Msg.Members))
	for _, memberName := range req.Msg.Members {
		memberName = strings.TrimSpace(memberName)
		if memberName == "" || seen[memberName] {
			continue
		}
		seen[memberName] = true
		members = append(members, &models.GroupMember{
			Name:          memberName,
			IsCurrentUser: memberName == req.Msg.CurrentUser,
		})
	}

	group := &models.Group{Name: name}
	if err := s.store.CreateGroup(ctx, group, members...); err != nil {
		slog.Error("CreateGroup failed", "error", err)
		return nil, storeError(err)
	}

	resp := &CreateGroupResponse{Group: groupToWire(*group)}
	for _, member := range members {
		resp.Members = append(resp.Members, memberToWire(*member))
	}

	slog.Info("Group created", "group_id", group.ID, "members", len(resp.Members))
	return connect.NewResponse(resp), nil
}

// AddMember adds one member to an existing group. Expenses recorded before
// the member joined keep their persisted shares.
func (s *LedgerService) AddMember(ctx context.Context, req *connect.Request[AddMemberRequest]) (*connect.Response[AddMemberResponse], error) {
	slog.Info("AddMember request received", "group_id", req.Msg.GroupID, "name", req.Msg.Name)

	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		return nil, invalidArgument("member name is required")
	}
	if _, err := s.store.GetGroup(ctx, req.Msg.GroupID); err != nil {
		return nil, storeError(err)
	}

	member := &models.GroupMember{GroupID: req.Msg.GroupID, Name: name, IsCurrentUser: req.Msg.IsCurrentUser}
	if err := s.store.AddGroupMember(ctx, member); err != nil {
		slog.Error("AddMember failed", "group_id", req.Msg.GroupID, "error", err)
		return nil, storeError(err)
	}

	return connect.NewResponse(&AddMemberResponse{Member: memberToWire(*member)}), nil
}

// CreateExpense records an expense and its shares. Without explicit shares
// the total is split equally among the current members, and that split is
// stored with the expense.
func (s *LedgerService) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[CreateExpenseResponse], error) {
	msg := req.Msg
	slog.Info("CreateExpense request received",
		"group_id", msg.GroupID,
		"payer_id", msg.PayerID,
		"total", msg.TotalAmount,
		"shares_count", len(msg.Shares),
	)

	if msg.TotalAmount <= 0 {
		return nil, storeError(calculator.ErrInvalidAmount)
	}
	members, err := s.groupMembers(ctx, msg.GroupID)
	if err != nil {
		return nil, err
	}
	memberIDs := make([]string, 0, len(members))
	isMember := make(map[string]bool, len(members))
	for _, m := range members {
		memberIDs = append(memberIDs, m.ID)
		isMember[m.ID] = true
	}
	if !isMember[msg.PayerID] {
		return nil, storeError(calculator.ErrPayerNotMember)
	}

	expense := &models.SplitExpense{
		ID:          uuid.New().String(),
		GroupID:     msg.GroupID,
		PayerID:     msg.PayerID,
		Description: msg.Description,
		TotalAmount: msg.TotalAmount,
	}

	var shares []models.ExpenseShare
	if len(msg.Shares) == 0 {
		shares, err = calculator.EqualShares(expense.ID, msg.TotalAmount, msg.PayerID, memberIDs)
		if err != nil {
			return nil, storeError(err)
		}
	} else {
		for _, sh := range msg.Shares {
			if !isMember[sh.MemberID] {
				return nil, invalidArgument("share member %q is not in group", sh.MemberID)
			}
			shares = append(shares, models.ExpenseShare{ExpenseID: expense.ID, MemberID: sh.MemberID, Amount: sh.Amount})
		}
		if err := calculator.ValidateShares(msg.TotalAmount, shares); err != nil {
			return nil, storeError(err)
		}
	}

	if err := s.store.CreateExpense(ctx, expense, shares); err != nil {
		slog.Error("CreateExpense failed", "group_id", msg.GroupID, "error", err)
		return nil, storeError(err)
	}

	out := Expense{
		ID:          expense.ID,
		GroupID:     expense.GroupID,
		PayerID:     expense.PayerID,
		Description: expense.Description,
		TotalAmount: expense.TotalAmount,
		CreatedAt:   expense.CreatedAt,
	}
	for _, sh := range shares {
		out.Shares = append(out.Shares, Share{MemberID: sh.MemberID, Amount: sh.Amount})
	}
	slog.Info("Expense created", "expense_id", expense.ID, "shares", len(shares))
	return connect.NewResponse(&CreateExpenseResponse{Expense: out}), nil
}

// CreateSettlement records a payment between two members of a group.
func (s *LedgerService) CreateSettlement(ctx context.Context, req *connect.Request[CreateSettlementRequest]) (*connect.Response[CreateSettlementResponse], error) {
	msg := req.Msg
	slog.Info("CreateSettlement request received",
		"group_id", msg.GroupID,
		"from", msg.FromMemberID,
		"to", msg.ToMemberID,
		"amount", msg.Amount,
	)

	if msg.Amount <= 0 {
		return nil, storeError(calculator.ErrInvalidAmount)
	}
	if msg.FromMemberID == msg.ToMemberID {
		return nil, invalidArgument("cannot settle with yourself")
	}
	members, err := s.groupMembers(ctx, msg.GroupID)
	if err != nil {
		return nil, err
	}
	found := 0
	for _, m := range members {
		if m.ID == msg.FromMemberID || m.ID == msg.ToMemberID {
			found++
		}
	}
	if found != 2 {
		return nil, invalidArgument("both members must belong to the group")
	}

	settlement := &models.Settlement{
		GroupID:      msg.GroupID,
		FromMemberID: msg.FromMemberID,
		ToMemberID:   msg.ToMemberID,
		Amount:       msg.Amount,
		Note:         msg.Note,
	}
	if err := s.store.CreateSettlement(ctx, settlement); err != nil {
		slog.Error("CreateSettlement failed", "group_id", msg.GroupID, "error", err)
		return nil, storeError(err)
	}

	slog.Info("Settlement created", "settlement_id", settlement.ID)
	return connect.NewResponse(&CreateSettlementResponse{Settlement: settlementToWire(*settlement)}), nil
}

// GetGroupBalances returns each member's net balance and a set of transfers
// that would settle the group.
func (s *LedgerService) GetGroupBalances(ctx context.Context, req *connect.Request[GetGroupBalancesRequest]) (*connect.Response[GetGroupBalancesResponse], error) {
	slog.Info("GetGroupBalances request received", "group_id", req.Msg.GroupID)

	result, err := GroupBalances(ctx, s.store, req.Msg.GroupID)
	if err != nil {
		slog.Error("GetGroupBalances failed", "group_id", req.Msg.GroupID, "error", err)
		return nil, storeError(err)
	}

	resp := &GetGroupBalancesResponse{
		Balances:  make([]MemberBalance, 0, len(result.Balances)),
		Suggested: []Transfer{},
		Skipped:   result.Skipped,
	}
	for _, b := range result.Balances {
		resp.Balances = append(resp.Balances, MemberBalance{MemberID: b.MemberID, MemberName: b.MemberName, Balance: b.Balance})
	}
	for _, t := range calculator.SuggestSettlements(result.Balances) {
		resp.Suggested = append(resp.Suggested, Transfer{FromMemberID: t.FromMemberID, ToMemberID: t.ToMemberID, Amount: t.Amount})
	}
	return connect.NewResponse(resp), nil
}

// GroupBalances loads a group's persisted rows and computes its balances.
func GroupBalances(ctx context.Context, store storage.LedgerStore, groupID string) (calculator.BalanceResult, error) {
	if _, err := store.GetGroup(ctx, groupID); err != nil {
		return calculator.BalanceResult{}, err
	}
	members, err := store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return calculator.BalanceResult{}, err
	}
	expenses, err := store.ListExpensesByGroup(ctx, groupID)
	if err != nil {
		return calculator.BalanceResult{}, err
	}
	shares, err := store.ListSharesByGroup(ctx, groupID)
	if err != nil {
		return calculator.BalanceResult{}, err
	}
	settlements, err := store.ListSettlementsByGroup(ctx, groupID)
	if err != nil {
		return calculator.BalanceResult{}, err
	}
	return calculator.ComputeBalances(calculator.BalanceInput{
		Members:     members,
		Expenses:    expenses,
		Shares:      shares,
		Settlements: settlements,
	}), nil
}

func (s *LedgerService) groupMembers(ctx context.Context, groupID string) ([]models.GroupMember, error) {
	if _, err := s.store.GetGroup(ctx, groupID); err != nil {
		return nil, storeError(err)
	}
	members, err := s.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, storeError(err)
	}
	return members, nil
}

// CreateDebt records a person-to-person debt. A debt linked to a friend is
// queued for their device once the local write has succeeded; failing to
// queue it never fails the request.
func (s *LedgerService) CreateDebt(ctx context.Context, req *connect.Request[CreateDebtRequest]) (*connect.Response[CreateDebtResponse], error) {
	msg := req.Msg
	slog.Info("CreateDebt request received",
		"type", msg.Type,
		"amount", msg.TotalAmount,
		"linked", msg.LinkedFriendID != "",
	)

	debtType := models.DebtType(strings.ToUpper(msg.Type))
	if !debtType.Valid() {
		return nil, invalidArgument("debt type must be DEBT or CREDIT")
	}
	if strings.TrimSpace(msg.PersonName) == "" {
		return nil, invalidArgument("person name is required")
	}
	if msg.TotalAmount <= 0 {
		return nil, storeError(calculator.ErrInvalidAmount)
	}

	debt := &models.Debt{
		Type:            debtType,
		PersonName:      strings.TrimSpace(msg.PersonName),
		Description:     msg.Description,
		TotalAmount:     msg.TotalAmount,
		RemainingAmount: msg.TotalAmount,
		LinkedFriendID:  msg.LinkedFriendID,
		DueDate:         msg.DueDate,
	}
	if err := s.store.CreateDebt(ctx, debt); err != nil {
		slog.Error("CreateDebt failed", "error", err)
		return nil, storeError(err)
	}
	slog.Info("Debt created", "debt_id", debt.ID)

	queued := false
	if debt.LinkedFriendID != "" {
		if sess := s.currentSession(); sess != nil {
			if err := sess.Debts.SyncDebtToFriend(ctx, *debt, debt.LinkedFriendID, s.senderName(ctx, msg.SenderName)); err != nil {
				slog.Warn("Debt sync not queued", "debt_id", debt.ID, "error", err)
			} else {
				queued = true
			}
		}
	}

	return connect.NewResponse(&CreateDebtResponse{Debt: debtToWire(*debt), Queued: queued}), nil
}

// RecordDebtPayment applies a payment to a debt. Paying a linked debt the
// local user owes reports the payment to the friend's device.
func (s *LedgerService) RecordDebtPayment(ctx context.Context, req *connect.Request[RecordDebtPaymentRequest]) (*connect.Response[RecordDebtPaymentResponse], error) {
	msg := req.Msg
	slog.Info("RecordDebtPayment request received", "debt_id", msg.DebtID, "amount", msg.Amount)

	payment := &models.DebtPayment{DebtID: msg.DebtID, Amount: msg.Amount, Note: msg.Note}
	debt, err := s.store.RecordDebtPayment(ctx, payment)
	if err != nil {
		slog.Warn("RecordDebtPayment failed", "debt_id", msg.DebtID, "error", err)
		return nil, storeError(err)
	}

	queued := false
	if debt.LinkedFriendID != "" && debt.Type == models.DebtTypeDebt {
		if sess := s.currentSession(); sess != nil {
			if err := sess.Settlements.SendSettlement(ctx, *payment, *debt, s.senderName(ctx, "")); err != nil {
				slog.Warn("Settlement not queued", "debt_id", debt.ID, "error", err)
			} else {
				queued = true
			}
		}
	}

	return connect.NewResponse(&RecordDebtPaymentResponse{
		Debt: debtToWire(*debt),
		Payment: DebtPayment{
			ID:        payment.ID,
			DebtID:    payment.DebtID,
			Amount:    payment.Amount,
			Note:      payment.Note,
			CreatedAt: payment.CreatedAt,
		},
		Queued: queued,
	}), nil
}

// ListDebts returns every local and mirrored debt, newest first.
func (s *LedgerService) ListDebts(ctx context.Context, req *connect.Request[ListDebtsRequest]) (*connect.Response[ListDebtsResponse], error) {
	debts, err := s.store.ListDebts(ctx)
	if err != nil {
		slog.Error("ListDebts failed", "error", err)
		return nil, storeError(err)
	}
	resp := &ListDebtsResponse{Debts: make([]Debt, 0, len(debts))}
	for _, d := range debts {
		resp.Debts = append(resp.Debts, debtToWire(d))
	}
	return connect.NewResponse(resp), nil
}

// DismissSyncedDebt deletes a mirrored debt from this device only.
func (s *LedgerService) DismissSyncedDebt(ctx context.Context, req *connect.Request[DismissSyncedDebtRequest]) (*connect.Response[DismissSyncedDebtResponse], error) {
	slog.Info("DismissSyncedDebt request received", "debt_id", req.Msg.DebtID)

	debt, err := s.store.GetDebt(ctx, req.Msg.DebtID)
	if err != nil {
		return nil, storeError(err)
	}
	if !debt.IsMirrored {
		return nil, connect.NewError(connect.CodeFailedPrecondition, mirror.ErrNotMirrored)
	}
	if sess := s.currentSession(); sess != nil {
		err = sess.Debts.DismissSyncedDebt(ctx, *debt)
	} else {
		err = s.store.DeleteDebt(ctx, debt.ID)
	}
	if err != nil {
		slog.Error("DismissSyncedDebt failed", "debt_id", debt.ID, "error", err)
		return nil, storeError(err)
	}
	return connect.NewResponse(&DismissSyncedDebtResponse{}), nil
}

// CreateAccount creates a financial account. A new default account lets
// deferred settlement notifications be booked.
func (s *LedgerService) CreateAccount(ctx context.Context, req *connect.Request[CreateAccountRequest]) (*connect.Response[CreateAccountResponse], error) {
	slog.Info("CreateAccount request received", "name", req.Msg.Name, "default", req.Msg.IsDefault)

	name := strings.TrimSpace(req.Msg.Name)
	if name == "" {
		return nil, invalidArgument("account name is required")
	}
	account := &models.Account{Name: name, Balance: req.Msg.Balance, IsDefault: req.Msg.IsDefault}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		slog.Error("CreateAccount failed", "error", err)
		return nil, storeError(err)
	}

	if account.IsDefault {
		if sess := s.currentSession(); sess != nil {
			sess.Settlements.Retry()
		}
	}
	return connect.NewResponse(&CreateAccountResponse{Account: accountToWire(*account)}), nil
}

// ListTransactions returns an account's transactions, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, req *connect.Request[ListTransactionsRequest]) (*connect.Response[ListTransactionsResponse], error) {
	if _, err := s.store.GetAccount(ctx, req.Msg.AccountID); err != nil {
		return nil, storeError(err)
	}
	txns, err := s.store.ListTransactions(ctx, req.Msg.AccountID)
	if err != nil {
		slog.Error("ListTransactions failed", "account_id", req.Msg.AccountID, "error", err)
		return nil, storeError(err)
	}
	resp := &ListTransactionsResponse{Transactions: make([]Transaction, 0, len(txns))}
	for _, t := range txns {
		resp.Transactions = append(resp.Transactions, transactionToWire(t))
	}
	return connect.NewResponse(resp), nil
}

// SignOut stops syncing for the current user. The local ledger is kept.
func (s *LedgerService) SignOut(ctx context.Context, req *connect.Request[SignOutRequest]) (*connect.Response[SignOutResponse], error) {
	if s.sessions != nil {
		s.sessions.SignOut()
	}
	slog.Info("Signed out", "user_id", middleware.GetUserID(ctx))
	return connect.NewResponse(&SignOutResponse{}), nil
}

func (s *LedgerService) senderName(ctx context.Context, override string) string {
	if override != "" {
		return override
	}
	return middleware.GetIdentity(ctx).DisplayName
}
