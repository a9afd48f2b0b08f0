package calculator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

var (
	ErrNoMembers      = errors.New("must have at least one member")
	ErrPayerNotMember = errors.New("payer must be one of the members")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrSharesMismatch = errors.New("shares do not add up to the expense total")
	ErrNegativeShare  = errors.New("share amount cannot be negative")
)

// shareTolerance is the rounding slack allowed between Σshares and the total.
var shareTolerance = decimal.NewFromFloat(0.01)

// EqualShares splits total evenly among memberIDs in whole cents. Cents that do
// not divide evenly are assigned to the payer, so the shares always add up to
// the total exactly.
//
// The result is meant to be persisted with the expense; it must not be
// recomputed later from a group's current membership.
func EqualShares(expenseID string, total float64, payerID string, memberIDs []string) ([]models.ExpenseShare, error) {
	if total <= 0 {
		return nil, ErrInvalidAmount
	}

	// Deduplicate, keeping first-seen order
	seen := make(map[string]bool, len(memberIDs))
	members := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	if !seen[payerID] {
		return nil, fmt.Errorf("%w: %s", ErrPayerNotMember, payerID)
	}

	cents := decimal.NewFromFloat(total).Shift(2).Round(0).IntPart()
	n := int64(len(members))
	per := cents / n
	remainder := cents % n

	shares := make([]models.ExpenseShare, len(members))
	for i, id := range members {
		amount := per
		if id == payerID {
			amount += remainder
		}
		shares[i] = models.ExpenseShare{
			ExpenseID: expenseID,
			MemberID:  id,
			Amount:    decimal.New(amount, -2).InexactFloat64(),
		}
	}
	return shares, nil
}

// ValidateShares checks that explicit shares are non-negative and add up to
// total within one cent.
func ValidateShares(total float64, shares []models.ExpenseShare) error {
	sum := decimal.Zero
	for _, share := range shares {
		if share.Amount < 0 {
			return fmt.Errorf("%w: member %s", ErrNegativeShare, share.MemberID)
		}
		sum = sum.Add(decimal.NewFromFloat(share.Amount))
	}
	if sum.Sub(decimal.NewFromFloat(total)).Abs().GreaterThan(shareTolerance) {
		return fmt.Errorf("%w: shares=%s total=%v", ErrSharesMismatch, sum.StringFixed(2), total)
	}
	return nil
}
