package domain

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Action trading direction recommended by the reasoning service.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// ParseAction parses a case-insensitive action name.
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToLower(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell, ActionHold:
		return a, nil
	default:
		return "", errors.Errorf("unknown action %q", s)
	}
}

// Decision recommendation for one instrument in one cycle.
// Intensity is a fraction in [0, 1].
type Decision struct {
	Instrument string
	Action     Action
	Intensity  decimal.Decimal
	Rationale  string
}

// FullIntensity is the intensity used when the reply leaves it out.
var FullIntensity = decimal.NewFromInt(1)

// NewDecision builds a validated decision.
func NewDecision(instrument string, action Action, intensity decimal.Decimal, rationale string) (Decision, error) {
	if instrument == "" {
		return Decision{}, errors.New("decision instrument is required")
	}
	if intensity.IsNegative() || intensity.GreaterThan(FullIntensity) {
		return Decision{}, errors.Errorf("intensity %s out of range [0, 1]", intensity.String())
	}
	if _, err := ParseAction(string(action)); err != nil {
		return Decision{}, err
	}

	return Decision{
		Instrument: instrument,
		Action:     action,
		Intensity:  intensity,
		Rationale:  rationale,
	}, nil
}
