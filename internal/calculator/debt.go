package calculator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Harry0M/oikos-sub001/internal/models"
)

var (
	ErrOverpayment    = errors.New("payment exceeds remaining amount")
	ErrAlreadySettled = errors.New("debt is already settled")
)

// ApplyPayment returns debt with amount taken off its remaining balance.
// Both sides are compared in whole cents: a payment that rounds to zero is
// invalid and one above the remaining cents is an overpayment. Callers store
// RoundCents(amount) so that payments always sum to total minus remaining.
func ApplyPayment(debt models.Debt, amount float64) (models.Debt, error) {
	if debt.IsSettled {
		return debt, ErrAlreadySettled
	}
	paid := decimal.NewFromFloat(amount).Round(2)
	if !paid.IsPositive() {
		return debt, ErrInvalidAmount
	}

	remaining := decimal.NewFromFloat(debt.RemainingAmount).Round(2)
	if paid.GreaterThan(remaining) {
		return debt, fmt.Errorf("%w: paying %v of %v", ErrOverpayment, paid, remaining)
	}

	remaining = remaining.Sub(paid)
	debt.RemainingAmount = remaining.InexactFloat64()
	debt.IsSettled = remaining.IsZero()
	return debt, nil
}

// RoundCents rounds amount to two decimal places.
func RoundCents(amount float64) float64 {
	return decimal.NewFromFloat(amount).Round(2).InexactFloat64()
}
