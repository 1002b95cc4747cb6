package domain

import "github.com/shopspring/decimal"

// Side order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// NoOpReason explains why a decision produced no order.
type NoOpReason string

const (
	NoOpHold              NoOpReason = "hold"
	NoOpAlreadySufficient NoOpReason = "already sufficient"
	NoOpBelowMinimum      NoOpReason = "below minimum notional"
	NoOpNoPosition        NoOpReason = "no position"
	NoOpNoFunds           NoOpReason = "insufficient funds"
	NoOpNoPrice           NoOpReason = "no market price"
)

// OrderInstruction concrete market order derived from a decision.
// Buys are sized by Notional (quote), sells by Quantity (base).
type OrderInstruction struct {
	Instrument Instrument
	Side       Side
	Notional   decimal.Decimal
	Quantity   decimal.Decimal
	// Price is the reference price the instruction was sized with.
	Price decimal.Decimal
}

// Value returns the quote value of the instruction.
func (o OrderInstruction) Value() decimal.Decimal {
	if o.Side == SideBuy {
		return o.Notional
	}
	return o.Quantity.Mul(o.Price)
}

// Reconciliation result of reconciling one decision: either an
// instruction or a no-op with its reason, never both.
type Reconciliation struct {
	Decision    Decision
	Instruction *OrderInstruction
	NoOp        NoOpReason
}

// IsNoOp reports whether no order should be submitted.
func (r Reconciliation) IsNoOp() bool {
	return r.Instruction == nil
}

// NewNoOp builds a no-op reconciliation.
func NewNoOp(d Decision, reason NoOpReason) Reconciliation {
	return Reconciliation{Decision: d, NoOp: reason}
}

// NewOrder builds a reconciliation carrying an instruction.
func NewOrder(d Decision, instr OrderInstruction) Reconciliation {
	return Reconciliation{Decision: d, Instruction: &instr}
}
