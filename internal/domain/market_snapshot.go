package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook top of the order book at Timestamp.
type OrderBook struct {
	Timestamp time.Time       `json:"timestamp"`
	BestBid   decimal.Decimal `json:"best_bid"`
	BestAsk   decimal.Decimal `json:"best_ask"`
	BidSize   decimal.Decimal `json:"bid_size"`
	AskSize   decimal.Decimal `json:"ask_size"`
}

// MarketSnapshot market data for one instrument within a single cycle.
type MarketSnapshot struct {
	Instrument Instrument
	Timestamp  time.Time
	Book       OrderBook
	Daily      *Timeframe
	Hourly     *Timeframe
}

// Price returns the decision-time market price: the best ask, or the
// latest close when the book is empty.
func (s MarketSnapshot) Price() decimal.Decimal {
	if s.Book.BestAsk.IsPositive() {
		return s.Book.BestAsk
	}
	if price, ok := s.LatestClose(); ok {
		return price
	}
	return decimal.Zero
}

// LatestClose returns the latest hourly close, falling back to the daily one.
func (s MarketSnapshot) LatestClose() (decimal.Decimal, bool) {
	if price, ok := s.Hourly.LatestPrice(); ok {
		return price, true
	}
	return s.Daily.LatestPrice()
}
