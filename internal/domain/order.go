package domain

import (
	"github.com/shopspring/decimal"
)

// OrderState terminal classification of a submitted order.
type OrderState string

const (
	OrderStateDone      OrderState = "done"
	OrderStateCancelled OrderState = "cancelled"
	OrderStateUnknown   OrderState = "unknown"
	OrderStateFailed    OrderState = "failed"
)

// ExchangeOrderStatus raw order state reported by the exchange.
type ExchangeOrderStatus string

const (
	ExchangeOrderNew             ExchangeOrderStatus = "new"
	ExchangeOrderPartiallyFilled ExchangeOrderStatus = "partially_filled"
	ExchangeOrderFilled          ExchangeOrderStatus = "filled"
	ExchangeOrderCancelled       ExchangeOrderStatus = "cancelled"
	ExchangeOrderRejected        ExchangeOrderStatus = "rejected"
	ExchangeOrderExpired         ExchangeOrderStatus = "expired"
	ExchangeOrderNotFound        ExchangeOrderStatus = "not_found"
)

// Terminal reports whether no further transition can occur.
func (s ExchangeOrderStatus) Terminal() bool {
	switch s {
	case ExchangeOrderFilled, ExchangeOrderCancelled, ExchangeOrderRejected, ExchangeOrderExpired:
		return true
	default:
		return false
	}
}

// OrderRecord order snapshot returned by the exchange. Fee is in quote currency.
type OrderRecord struct {
	ClientOrderID  string
	Status         ExchangeOrderStatus
	FilledQuantity decimal.Decimal
	QuoteAmount    decimal.Decimal
	Fee            decimal.Decimal
}

// OrderOutcome what an executed instruction actually did.
type OrderOutcome struct {
	Instrument     string          `json:"instrument"`
	Side           Side            `json:"side"`
	ClientOrderID  string          `json:"client_order_id"`
	State          OrderState      `json:"state"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
	QuoteAmount    decimal.Decimal `json:"quote_amount"`
	Fee            decimal.Decimal `json:"fee"`
	Error          string          `json:"error,omitempty"`
}

// ResultKind tag of an ExecutionResult.
type ResultKind int

const (
	ResultDone ResultKind = iota
	ResultUnknown
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultDone:
		return "done"
	case ResultUnknown:
		return "unknown"
	default:
		return "failed"
	}
}

// ExecutionResult tagged result of executing one instruction:
// Done(outcome), Unknown(outcome) or Failed(err).
type ExecutionResult struct {
	Kind    ResultKind
	Outcome OrderOutcome
	Err     error
}

// Done wraps a terminal outcome.
func Done(o OrderOutcome) ExecutionResult {
	return ExecutionResult{Kind: ResultDone, Outcome: o}
}

// Unknown wraps an outcome whose order never reached a terminal state.
func Unknown(o OrderOutcome) ExecutionResult {
	o.State = OrderStateUnknown
	o.Fee = decimal.Zero
	return ExecutionResult{Kind: ResultUnknown, Outcome: o}
}

// Failed marks a submission failure.
func Failed(o OrderOutcome, err error) ExecutionResult {
	o.State = OrderStateFailed
	if err != nil {
		o.Error = err.Error()
	}
	return ExecutionResult{Kind: ResultFailed, Outcome: o, Err: err}
}

// SettledFee returns the fee that counts towards settlement.
func (r ExecutionResult) SettledFee() decimal.Decimal {
	if r.Kind != ResultDone {
		return decimal.Zero
	}
	return r.Outcome.Fee
}
