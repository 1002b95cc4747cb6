// Package simstate persists the simulated exchange account between restarts.
package simstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const defaultStateDir = "./wal/simulate"

// Store persists simulator state in a single JSON file.
type Store struct {
	path string
}

func getStateDir() string {
	if stateDir := os.Getenv("AUTOTRADE_SIMULATE_STATE_DIR"); stateDir != "" {
		return stateDir
	}
	return defaultStateDir
}

// NewStore creates a simulator state store named after scope in the state dir.
func NewStore(scope string) (*Store, error) {
	return NewStoreAt(getStateDir(), scope)
}

// NewStoreAt creates a simulator state store in dir.
func NewStoreAt(dir, scope string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create simulate state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		name = "account"
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// State all persisted simulator data. Amounts are decimal strings.
type State struct {
	Wallet    map[string]string `json:"wallet"`
	AvgPrices map[string]string `json:"avg_prices,omitempty"`
}

// NewState encodes wallet and average prices.
func NewState(wallet, avgPrices map[string]decimal.Decimal) State {
	st := State{
		Wallet:    make(map[string]string, len(wallet)),
		AvgPrices: make(map[string]string, len(avgPrices)),
	}
	for asset, amount := range wallet {
		st.Wallet[asset] = amount.String()
	}
	for asset, price := range avgPrices {
		st.AvgPrices[asset] = price.String()
	}
	return st
}

// Decode returns the wallet and average prices held by the state.
func (st State) Decode() (wallet, avgPrices map[string]decimal.Decimal, err error) {
	wallet = make(map[string]decimal.Decimal, len(st.Wallet))
	for asset, raw := range st.Wallet {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decode %s balance", asset)
		}
		wallet[asset] = v
	}

	avgPrices = make(map[string]decimal.Decimal, len(st.AvgPrices))
	for asset, raw := range st.AvgPrices {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decode %s average price", asset)
		}
		avgPrices[asset] = v
	}

	return wallet, avgPrices, nil
}

// Load reads simulator state from disk. A missing file yields nil state.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrap(err, "read simulate state")
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode simulate state")
	}

	return &state, nil
}

// Save writes simulator state to disk atomically via temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode simulate state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write simulate state temp file")
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist simulate state")
	}

	return nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
