package service

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// LedgerServiceName is the fully-qualified name of the ledger service.
const LedgerServiceName = "ledger.v1.LedgerService"

// Procedure paths served by NewLedgerServiceHandler.
const (
	CreateGroupProcedure       = "/ledger.v1.LedgerService/CreateGroup"
	AddMemberProcedure         = "/ledger.v1.LedgerService/AddMember"
	CreateExpenseProcedure     = "/ledger.v1.LedgerService/CreateExpense"
	CreateSettlementProcedure  = "/ledger.v1.LedgerService/CreateSettlement"
	GetGroupBalancesProcedure  = "/ledger.v1.LedgerService/GetGroupBalances"
	CreateDebtProcedure        = "/ledger.v1.LedgerService/CreateDebt"
	RecordDebtPaymentProcedure = "/ledger.v1.LedgerService/RecordDebtPayment"
	ListDebtsProcedure         = "/ledger.v1.LedgerService/ListDebts"
	DismissSyncedDebtProcedure = "/ledger.v1.LedgerService/DismissSyncedDebt"
	CreateAccountProcedure     = "/ledger.v1.LedgerService/CreateAccount"
	ListTransactionsProcedure  = "/ledger.v1.LedgerService/ListTransactions"
	SignOutProcedure           = "/ledger.v1.LedgerService/SignOut"
)

// NewLedgerServiceHandler builds an HTTP handler for every ledger procedure.
// It returns the path prefix to mount the handler on.
func NewLedgerServiceHandler(svc *LedgerService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateGroupProcedure, connect.NewUnaryHandler(CreateGroupProcedure, svc.CreateGroup, opts...))
	mux.Handle(AddMemberProcedure, connect.NewUnaryHandler(AddMemberProcedure, svc.AddMember, opts...))
	mux.Handle(CreateExpenseProcedure, connect.NewUnaryHandler(CreateExpenseProcedure, svc.CreateExpense, opts...))
	mux.Handle(CreateSettlementProcedure, connect.NewUnaryHandler(CreateSettlementProcedure, svc.CreateSettlement, opts...))
	mux.Handle(GetGroupBalancesProcedure, connect.NewUnaryHandler(GetGroupBalancesProcedure, svc.GetGroupBalances, opts...))
	mux.Handle(CreateDebtProcedure, connect.NewUnaryHandler(CreateDebtProcedure, svc.CreateDebt, opts...))
	mux.Handle(RecordDebtPaymentProcedure, connect.NewUnaryHandler(RecordDebtPaymentProcedure, svc.RecordDebtPayment, opts...))
	mux.Handle(ListDebtsProcedure, connect.NewUnaryHandler(ListDebtsProcedure, svc.ListDebts, opts...))
	mux.Handle(DismissSyncedDebtProcedure, connect.NewUnaryHandler(DismissSyncedDebtProcedure, svc.DismissSyncedDebt, opts...))
	mux.Handle(CreateAccountProcedure, connect.NewUnaryHandler(CreateAccountProcedure, svc.CreateAccount, opts...))
	mux.Handle(ListTransactionsProcedure, connect.NewUnaryHandler(ListTransactionsProcedure, svc.ListTransactions, opts...))
	mux.Handle(SignOutProcedure, connect.NewUnaryHandler(SignOutProcedure, svc.SignOut, opts...))

	return "/" + LedgerServiceName + "/", mux
}

// LedgerClient calls a ledger node over Connect.
type LedgerClient struct {
	createGroup       *connect.Client[CreateGroupRequest, CreateGroupResponse]
	addMember         *connect.Client[AddMemberRequest, AddMemberResponse]
	createExpense     *connect.Client[CreateExpenseRequest, CreateExpenseResponse]
	createSettlement  *connect.Client[CreateSettlementRequest, CreateSettlementResponse]
	getGroupBalances  *connect.Client[GetGroupBalancesRequest, GetGroupBalancesResponse]
	createDebt        *connect.Client[CreateDebtRequest, CreateDebtResponse]
	recordDebtPayment *connect.Client[RecordDebtPaymentRequest, RecordDebtPaymentResponse]
	listDebts         *connect.Client[ListDebtsRequest, ListDebtsResponse]
	dismissSyncedDebt *connect.Client[DismissSyncedDebtRequest, DismissSyncedDebtResponse]
	createAccount     *connect.Client[CreateAccountRequest, CreateAccountResponse]
	listTransactions  *connect.Client[ListTransactionsRequest, ListTransactionsResponse]
	signOut           *connect.Client[SignOutRequest, SignOutResponse]
}

// NewLedgerClient creates a client for the node at baseURL.
func NewLedgerClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *LedgerClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)
	return &LedgerClient{
		createGroup:       connect.NewClient[CreateGroupRequest, CreateGroupResponse](httpClient, baseURL+CreateGroupProcedure, opts...),
		addMember:         connect.NewClient[AddMemberRequest, AddMemberResponse](httpClient, baseURL+AddMemberProcedure, opts...),
		createExpense:     connect.NewClient[CreateExpenseRequest, CreateExpenseResponse](httpClient, baseURL+CreateExpenseProcedure, opts...),
		createSettlement:  connect.NewClient[CreateSettlementRequest, CreateSettlementResponse](httpClient, baseURL+CreateSettlementProcedure, opts...),
		getGroupBalances:  connect.NewClient[GetGroupBalancesRequest, GetGroupBalancesResponse](httpClient, baseURL+GetGroupBalancesProcedure, opts...),
		createDebt:        connect.NewClient[CreateDebtRequest, CreateDebtResponse](httpClient, baseURL+CreateDebtProcedure, opts...),
		recordDebtPayment: connect.NewClient[RecordDebtPaymentRequest, RecordDebtPaymentResponse](httpClient, baseURL+RecordDebtPaymentProcedure, opts...),
		listDebts:         connect.NewClient[ListDebtsRequest, ListDebtsResponse](httpClient, baseURL+ListDebtsProcedure, opts...),
		dismissSyncedDebt: connect.NewClient[DismissSyncedDebtRequest, DismissSyncedDebtResponse](httpClient, baseURL+DismissSyncedDebtProcedure, opts...),
		createAccount:     connect.NewClient[CreateAccountRequest, CreateAccountResponse](httpClient, baseURL+CreateAccountProcedure, opts...),
		listTransactions:  connect.NewClient[ListTransactionsRequest, ListTransactionsResponse](httpClient, baseURL+ListTransactionsProcedure, opts...),
		signOut:           connect.NewClient[SignOutRequest, SignOutResponse](httpClient, baseURL+SignOutProcedure, opts...),
	}
}

func (c *LedgerClient) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *LedgerClient) AddMember(ctx context.Context, req *connect.Request[AddMemberRequest]) (*connect.Response[AddMemberResponse], error) {
	return c.addMember.CallUnary(ctx, req)
}

func (c *LedgerClient) CreateExpense(ctx context.Context, req *connect.Request[CreateExpenseRequest]) (*connect.Response[CreateExpenseResponse], error) {
	return c.createExpense.CallUnary(ctx, req)
}

func (c *LedgerClient) CreateSettlement(ctx context.Context, req *connect.Request[CreateSettlementRequest]) (*connect.Response[CreateSettlementResponse], error) {
	return c.createSettlement.CallUnary(ctx, req)
}

func (c *LedgerClient) GetGroupBalances(ctx context.Context, req *connect.Request[GetGroupBalancesRequest]) (*connect.Response[GetGroupBalancesResponse], error) {
	return c.getGroupBalances.CallUnary(ctx, req)
}

func (c *LedgerClient) CreateDebt(ctx context.Context, req *connect.Request[CreateDebtRequest]) (*connect.Response[CreateDebtResponse], error) {
	return c.createDebt.CallUnary(ctx, req)
}

func (c *LedgerClient) RecordDebtPayment(ctx context.Context, req *connect.Request[RecordDebtPaymentRequest]) (*connect.Response[RecordDebtPaymentResponse], error) {
	return c.recordDebtPayment.CallUnary(ctx, req)
}

func (c *LedgerClient) ListDebts(ctx context.Context, req *connect.Request[ListDebtsRequest]) (*connect.Response[ListDebtsResponse], error) {
	return c.listDebts.CallUnary(ctx, req)
}

func (c *LedgerClient) DismissSyncedDebt(ctx context.Context, req *connect.Request[DismissSyncedDebtRequest]) (*connect.Response[DismissSyncedDebtResponse], error) {
	return c.dismissSyncedDebt.CallUnary(ctx, req)
}

func (c *LedgerClient) CreateAccount(ctx context.Context, req *connect.Request[CreateAccountRequest]) (*connect.Response[CreateAccountResponse], error) {
	return c.createAccount.CallUnary(ctx, req)
}

func (c *LedgerClient) ListTransactions(ctx context.Context, req *connect.Request[ListTransactionsRequest]) (*connect.Response[ListTransactionsResponse], error) {
	return c.listTransactions.CallUnary(ctx, req)
}

func (c *LedgerClient) SignOut(ctx context.Context, req *connect.Request[SignOutRequest]) (*connect.Response[SignOutResponse], error) {
	return c.signOut.CallUnary(ctx, req)
}
