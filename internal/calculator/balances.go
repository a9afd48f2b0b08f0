package calculator

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

// balanceEpsilon is the magnitude below which a balance counts as settled.
var balanceEpsilon = decimal.NewFromFloat(0.005)

// BalanceInput is everything persisted for one group that affects balances.
type BalanceInput struct {
	Members     []models.GroupMember
	Expenses    []models.SplitExpense
	Shares      []models.ExpenseShare
	Settlements []models.Settlement
}

// BalanceResult is the output of ComputeBalances.
type BalanceResult struct {
	// Balances holds every member whose balance is not within epsilon of zero,
	// ordered by absolute balance descending, then by name.
	Balances []models.MemberBalance

	// Skipped counts malformed expenses and settlements that were ignored.
	Skipped int
}

// ComputeBalances turns a group's persisted expenses, shares and settlements
// into signed net balances per member.
//
// Algorithm:
//   - every member starts at 0
//   - for each expense: payer += total, then each share's member -= share amount
//   - for each settlement: from += amount, to -= amount
//
// An expense is applied together with all of its shares or not at all, so a
// malformed row never breaks the zero-sum property of the result. Malformed
// rows are skipped and logged; they never abort the computation.
func ComputeBalances(in BalanceInput) BalanceResult {
	balances := make(map[string]decimal.Decimal, len(in.Members))
	names := make(map[string]string, len(in.Members))
	for _, m := range in.Members {
		balances[m.ID] = decimal.Zero
		names[m.ID] = m.Name
	}

	sharesByExpense := make(map[string][]models.ExpenseShare)
	for _, share := range in.Shares {
		sharesByExpense[share.ExpenseID] = append(sharesByExpense[share.ExpenseID], share)
	}

	skipped := 0
	for _, expense := range in.Expenses {
		shares := sharesByExpense[expense.ID]
		if reason := checkExpense(expense, shares, balances); reason != "" {
			slog.Warn("Skipping malformed expense", "expense_id", expense.ID, "group_id", expense.GroupID, "reason", reason)
			skipped++
			continue
		}

		// Payer paid the full amount
		balances[expense.PayerID] = balances[expense.PayerID].Add(decimal.NewFromFloat(expense.TotalAmount))

		// Each member owes their persisted share (this nets the payer's own share)
		for _, share := range shares {
			balances[share.MemberID] = balances[share.MemberID].Sub(decimal.NewFromFloat(share.Amount))
		}
	}

	for _, s := range in.Settlements {
		if reason := checkSettlement(s, balances); reason != "" {
			slog.Warn("Skipping malformed settlement", "settlement_id", s.ID, "group_id", s.GroupID, "reason", reason)
			skipped++
			continue
		}
		amount := decimal.NewFromFloat(s.Amount)
		// Payer's claim improves, receiver's claim shrinks
		balances[s.FromMemberID] = balances[s.FromMemberID].Add(amount)
		balances[s.ToMemberID] = balances[s.ToMemberID].Sub(amount)
	}

	result := BalanceResult{Skipped: skipped}
	for id, bal := range balances {
		if bal.Abs().LessThan(balanceEpsilon) {
			continue
		}
		result.Balances = append(result.Balances, models.MemberBalance{
			MemberID:   id,
			MemberName: names[id],
			Balance:    bal.Round(2).InexactFloat64(),
		})
	}

	sort.Slice(result.Balances, func(i, j int) bool {
		ai, aj := abs(result.Balances[i].Balance), abs(result.Balances[j].Balance)
		if ai != aj {
			return ai > aj
		}
		return strings.Compare(result.Balances[i].MemberName, result.Balances[j].MemberName) < 0
	})

	return result
}

func checkExpense(expense models.SplitExpense, shares []models.ExpenseShare, members map[string]decimal.Decimal) string {
	if expense.PayerID == "" {
		return "missing payer"
	}
	if _, ok := members[expense.PayerID]; !ok {
		return "payer is not a group member"
	}
	if expense.TotalAmount <= 0 {
		return "non-positive total"
	}
	if len(shares) == 0 {
		return "no persisted shares"
	}
	for _, share := range shares {
		if _, ok := members[share.MemberID]; !ok {
			return "share member is not a group member"
		}
	}
	if err := ValidateShares(expense.TotalAmount, shares); err != nil {
		return err.Error()
	}
	return ""
}

func checkSettlement(s models.Settlement, members map[string]decimal.Decimal) string {
	if s.Amount <= 0 {
		return "non-positive amount"
	}
	if s.FromMemberID == s.ToMemberID {
		return "payer and receiver are the same member"
	}
	if _, ok := members[s.FromMemberID]; !ok {
		return "payer is not a group member"
	}
	if _, ok := members[s.ToMemberID]; !ok {
		return "receiver is not a group member"
	}
	return ""
}

// SuggestSettlements proposes transfers that would bring every balance in one
// group to zero, matching the largest debtors with the largest creditors.
// It never nets across groups or across friends-of-friends.
func SuggestSettlements(balances []models.MemberBalance) []models.SuggestedTransfer {
	type position struct {
		id     string
		amount float64
	}

	// Create lists of creditors (owed money) and debtors (owe money)
	var creditors, debtors []position
	for _, bal := range balances {
		if bal.Balance > 0 {
			creditors = append(creditors, position{bal.MemberID, bal.Balance})
		} else if bal.Balance < 0 {
			debtors = append(debtors, position{bal.MemberID, -bal.Balance}) // Make positive
		}
	}
	byAmount := func(ps []position) func(i, j int) bool {
		return func(i, j int) bool {
			if ps[i].amount != ps[j].amount {
				return ps[i].amount > ps[j].amount
			}
			return ps[i].id < ps[j].id
		}
	}
	sort.Slice(creditors, byAmount(creditors))
	sort.Slice(debtors, byAmount(debtors))

	// Greedy algorithm: match largest debts with largest credits
	var transfers []models.SuggestedTransfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := debtors[i].amount
		if creditors[j].amount < amount {
			amount = creditors[j].amount
		}

		if amount > 0.01 { // Avoid floating point noise
			transfers = append(transfers, models.SuggestedTransfer{
				FromMemberID: debtors[i].id,
				ToMemberID:   creditors[j].id,
				Amount:       decimal.NewFromFloat(amount).Round(2).InexactFloat64(),
			})
		}

		debtors[i].amount -= amount
		creditors[j].amount -= amount

		// Move to next debtor/creditor if fully settled
		if debtors[i].amount < 0.01 {
			i++
		}
		if creditors[j].amount < 0.01 {
			j++
		}
	}

	return transfers
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
