package domain

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// LedgerTimeLayout human-readable ledger timestamp with millisecond precision.
const LedgerTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// LedgerEntry one audited decision with its decision-time context.
// The outcome fields are empty for no-op decisions.
type LedgerEntry struct {
	Timestamp  time.Time       `json:"-"`
	CycleID    string          `json:"cycle_id"`
	Instrument string          `json:"instrument"`
	Model      string          `json:"model,omitempty"`
	Action     Action          `json:"action"`
	Intensity  decimal.Decimal `json:"intensity"`
	Rationale  string          `json:"rationale"`

	PositionQuantity    decimal.Decimal `json:"position_quantity"`
	CashBalance         decimal.Decimal `json:"cash_balance"`
	AvgAcquisitionPrice decimal.Decimal `json:"avg_acquisition_price"`
	MarketPrice         decimal.Decimal `json:"market_price"`

	NoOp    NoOpReason    `json:"noop,omitempty"`
	Outcome *OrderOutcome `json:"outcome,omitempty"`
}

// NewLedgerEntry builds an entry from a reconciled decision, the position
// and price it was reconciled against, and the optional execution outcome.
func NewLedgerEntry(
	ts time.Time,
	cycleID string,
	model string,
	rec Reconciliation,
	pos AccountPosition,
	marketPrice decimal.Decimal,
	outcome *OrderOutcome,
) LedgerEntry {
	return LedgerEntry{
		Timestamp:           NormalizeLedgerTime(ts),
		CycleID:             cycleID,
		Instrument:          rec.Decision.Instrument,
		Model:               NormalizeModelName(model),
		Action:              rec.Decision.Action,
		Intensity:           rec.Decision.Intensity,
		Rationale:           rec.Decision.Rationale,
		PositionQuantity:    pos.Quantity,
		CashBalance:         pos.Cash,
		AvgAcquisitionPrice: pos.AvgPrice,
		MarketPrice:         marketPrice,
		NoOp:                rec.NoOp,
		Outcome:             outcome,
	}
}

// NormalizeLedgerTime truncates to milliseconds in UTC, the precision the
// ledger stores, so human-readable and epoch forms convert losslessly.
func NormalizeLedgerTime(ts time.Time) time.Time {
	return time.UnixMilli(ts.UnixMilli()).UTC()
}

// EpochMillis returns the timestamp as epoch milliseconds.
func (e LedgerEntry) EpochMillis() int64 {
	return e.Timestamp.UnixMilli()
}

// HumanTime returns the timestamp formatted with LedgerTimeLayout.
func (e LedgerEntry) HumanTime() string {
	return e.Timestamp.UTC().Format(LedgerTimeLayout)
}

// ParseLedgerTime parses a LedgerTimeLayout timestamp.
func ParseLedgerTime(s string) (time.Time, error) {
	ts, err := time.Parse(LedgerTimeLayout, s)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse ledger timestamp")
	}
	return NormalizeLedgerTime(ts), nil
}

// LedgerRecord bundles a ledger entry with its position in the store.
type LedgerRecord struct {
	Index uint64
	Entry LedgerEntry
}
