package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CycleState orchestrator phase.
type CycleState int32

const (
	CycleIdle CycleState = iota
	CycleGathering
	CycleDeciding
	CycleExecuting
	CycleSettling
)

func (s CycleState) String() string {
	switch s {
	case CycleGathering:
		return "gathering"
	case CycleDeciding:
		return "deciding"
	case CycleExecuting:
		return "executing"
	case CycleSettling:
		return "settling"
	default:
		return "idle"
	}
}

// InstrumentResult what happened to one instrument within a cycle.
type InstrumentResult struct {
	Instrument string        `json:"instrument"`
	Action     Action        `json:"action"`
	NoOp       NoOpReason    `json:"noop,omitempty"`
	Outcome    *OrderOutcome `json:"outcome,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// CycleSummary settlement of one full cycle.
// Profit = (After - Before) - Fees.
type CycleSummary struct {
	CycleID     string             `json:"cycle_id"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Before      decimal.Decimal    `json:"before"`
	After       decimal.Decimal    `json:"after"`
	Fees        decimal.Decimal    `json:"fees"`
	Profit      decimal.Decimal    `json:"profit"`
	Results     []InstrumentResult `json:"results"`
	Aborted     bool               `json:"aborted"`
	AbortReason string             `json:"abort_reason,omitempty"`
}

// Settle fills in the profit from the before/after valuations and fees.
func (s *CycleSummary) Settle(before, after, fees decimal.Decimal) {
	s.Before = before
	s.After = after
	s.Fees = fees
	s.Profit = after.Sub(before).Sub(fees)
}
