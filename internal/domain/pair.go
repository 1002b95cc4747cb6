// Package domain defines core data structures used throughout the trading cycle.
package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Pair cryptocurrency trading pair.
type Pair struct {
	// From base currency symbol.
	From string
	// To quote currency symbol.
	To string
}

// ParsePair parses a BASE_QUOTE string such as "BTC_USDT".
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, errors.Errorf("invalid pair %q: expected BASE_QUOTE", s)
	}
	return Pair{From: strings.ToUpper(parts[0]), To: strings.ToUpper(parts[1])}, nil
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Symbol returns the concatenated symbol representation.
func (p Pair) Symbol() string {
	return fmt.Sprintf("%s%s", p.From, p.To)
}

// Instrument tradable asset paired against the quote currency.
// ID is the base asset symbol and keys decisions, ledger rows and replies.
type Instrument struct {
	ID   string
	Pair Pair
}

// NewInstrument builds an instrument identified by the pair's base asset.
func NewInstrument(pair Pair) Instrument {
	return Instrument{ID: pair.From, Pair: pair}
}

// Ticker returns the exchange-specific ticker string.
func (i Instrument) Ticker() string {
	return i.Pair.Symbol()
}

// Quote returns the quote currency symbol.
func (i Instrument) Quote() string {
	return i.Pair.To
}

func (i Instrument) String() string {
	return i.ID
}
