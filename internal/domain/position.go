package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountPosition holdings of one instrument plus the quote cash balance,
// as read from the exchange at Timestamp.
type AccountPosition struct {
	Instrument Instrument
	Quantity   decimal.Decimal
	AvgPrice   decimal.Decimal
	Cash       decimal.Decimal
	Timestamp  time.Time
}

// Value returns the quote value of the held quantity at price.
func (p AccountPosition) Value(price decimal.Decimal) decimal.Decimal {
	return p.Quantity.Mul(price)
}

// UnrealizedPnL returns the profit of the held quantity against its average price.
func (p AccountPosition) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.Quantity.IsZero() || p.AvgPrice.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.AvgPrice).Mul(p.Quantity)
}

// Balance free amount of one asset.
type Balance struct {
	Asset string
	Free  decimal.Decimal
}

// InstrumentStatus position and order book of one instrument.
type InstrumentStatus struct {
	Position AccountPosition
	Book     OrderBook
	// LastPrice latest close, used when the book has no ask.
	LastPrice decimal.Decimal
}

// Price returns the best ask used to value the position, or LastPrice
// when the book is empty.
func (s InstrumentStatus) Price() decimal.Decimal {
	if s.Book.BestAsk.IsPositive() {
		return s.Book.BestAsk
	}
	return s.LastPrice
}

// StatusSnapshot per-instrument account state. Fields are self-consistent
// per instrument only; instruments are fetched independently.
type StatusSnapshot struct {
	Taken       time.Time
	Cash        decimal.Decimal
	Instruments []InstrumentStatus
}

// Get returns the status of the instrument with the given id.
func (s StatusSnapshot) Get(id string) (InstrumentStatus, bool) {
	for _, st := range s.Instruments {
		if st.Position.Instrument.ID == id {
			return st, true
		}
	}
	return InstrumentStatus{}, false
}

// WithLastPrices returns a copy with LastPrice set from prices by instrument id.
func (s StatusSnapshot) WithLastPrices(prices map[string]decimal.Decimal) StatusSnapshot {
	out := s
	out.Instruments = make([]InstrumentStatus, len(s.Instruments))
	for i, st := range s.Instruments {
		if p, ok := prices[st.Position.Instrument.ID]; ok {
			st.LastPrice = p
		}
		out.Instruments[i] = st
	}
	return out
}

// Valuation returns cash plus the value of every instrument not in skip.
func (s StatusSnapshot) Valuation(skip map[string]bool) decimal.Decimal {
	total := s.Cash
	for _, st := range s.Instruments {
		if skip[st.Position.Instrument.ID] {
			continue
		}
		total = total.Add(st.Position.Value(st.Price()))
	}
	return total
}
