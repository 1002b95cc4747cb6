// Package reconciler turns a decision into a concrete market order
// instruction bounded by the investable budget, the available balance and
// the exchange minimum notional. It has no side effects.
package reconciler

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

// DefaultMinNotional smallest order value the exchange accepts, in quote currency.
var DefaultMinNotional = decimal.NewFromInt(5000)

// Limits sizing inputs shared by every decision of a cycle.
type Limits struct {
	// Investable budget in quote currency a buy intensity is applied to.
	Investable decimal.Decimal
	// MinNotional orders worth less are dropped.
	MinNotional decimal.Decimal
	// FeeRate reserved from cash so a cash-limited buy stays fundable.
	FeeRate decimal.Decimal
}

// Investable returns fraction of the snapshot valuation, skipping excluded
// instruments.
func Investable(snap domain.StatusSnapshot, fraction decimal.Decimal, excluded map[string]bool) decimal.Decimal {
	return snap.Valuation(excluded).Mul(fraction)
}

// Reconcile resolves a decision against the instrument position priced at
// price. It always yields exactly one instruction or a no-op.
func Reconcile(d domain.Decision, pos domain.AccountPosition, price decimal.Decimal, limits Limits) domain.Reconciliation {
	if d.Action == domain.ActionHold {
		return domain.NewNoOp(d, domain.NoOpHold)
	}

	if !price.IsPositive() {
		return domain.NewNoOp(d, domain.NoOpNoPrice)
	}

	minNotional := limits.MinNotional
	if minNotional.IsNegative() {
		minNotional = decimal.Zero
	}

	switch d.Action {
	case domain.ActionBuy:
		return reconcileBuy(d, pos, price, limits, minNotional)
	case domain.ActionSell:
		return reconcileSell(d, pos, price, minNotional)
	default:
		return domain.NewNoOp(d, domain.NoOpHold)
	}
}

// reconcileBuy tops the holding up to investable x intensity.
func reconcileBuy(d domain.Decision, pos domain.AccountPosition, price decimal.Decimal, limits Limits, minNotional decimal.Decimal) domain.Reconciliation {
	target := limits.Investable.Mul(d.Intensity)
	holding := pos.Value(price)
	if holding.GreaterThanOrEqual(target) {
		return domain.NewNoOp(d, domain.NoOpAlreadySufficient)
	}

	notional := target.Sub(holding)

	spendable := pos.Cash.Mul(decimal.NewFromInt(1).Sub(limits.FeeRate))
	if notional.GreaterThan(spendable) {
		if !spendable.IsPositive() {
			return domain.NewNoOp(d, domain.NoOpNoFunds)
		}
		notional = spendable
	}

	if notional.LessThan(minNotional) {
		return domain.NewNoOp(d, domain.NoOpBelowMinimum)
	}

	return domain.NewOrder(d, domain.OrderInstruction{
		Instrument: pos.Instrument,
		Side:       domain.SideBuy,
		Notional:   notional,
		Price:      price,
	})
}

// reconcileSell sells intensity x the held quantity.
func reconcileSell(d domain.Decision, pos domain.AccountPosition, price, minNotional decimal.Decimal) domain.Reconciliation {
	if !pos.Quantity.IsPositive() {
		return domain.NewNoOp(d, domain.NoOpNoPosition)
	}

	qty := pos.Quantity.Mul(d.Intensity)
	if qty.Mul(price).LessThan(minNotional) || !qty.IsPositive() {
		return domain.NewNoOp(d, domain.NoOpBelowMinimum)
	}

	return domain.NewOrder(d, domain.OrderInstruction{
		Instrument: pos.Instrument,
		Side:       domain.SideSell,
		Quantity:   qty,
		Price:      price,
	})
}
