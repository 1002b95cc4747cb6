// Package ledger is the append-only decision audit trail. Entries are keyed
// by instrument and a per-instrument strictly increasing millisecond
// timestamp, and are never updated or removed.
package ledger

import (
	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

const (
	DriverWAL    = "wal"
	DriverSQLite = "sqlite"
)

var errNotInitialized = errors.New("ledger store is not initialized")

// Store single writer, many readers.
type Store interface {
	// Append persists entry and returns its index. The stored timestamp is
	// bumped forward when it would not be later than the previous one for
	// the same instrument.
	Append(entry domain.LedgerEntry) (domain.LedgerRecord, error)
	// Recent returns up to n newest entries for instrument, newest first.
	Recent(instrument string, n int) ([]domain.LedgerEntry, error)
	Close() error
}

// Open creates the store selected by driver. path is a directory for the
// WAL driver and a database file for sqlite.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", DriverWAL:
		return NewWALStore(path)
	case DriverSQLite:
		return NewGormStore(path)
	default:
		return nil, errors.Errorf("unknown ledger driver %q", driver)
	}
}

// RecentByInstrument reads the history window for every instrument.
func RecentByInstrument(s Store, instruments []string, n int) (map[string][]domain.LedgerEntry, error) {
	out := make(map[string][]domain.LedgerEntry, len(instruments))
	for _, id := range instruments {
		entries, err := s.Recent(id, n)
		if err != nil {
			return nil, errors.Wrapf(err, "read ledger history for %s", id)
		}
		out[id] = entries
	}
	return out, nil
}

// nextTimestamp keeps timestamps strictly increasing per instrument.
func nextTimestamp(last, ts int64) int64 {
	if ts <= last {
		return last + 1
	}
	return ts
}

func tail(records []domain.LedgerRecord, n int) []domain.LedgerEntry {
	if n <= 0 || len(records) == 0 {
		return nil
	}
	if n > len(records) {
		n = len(records)
	}
	out := make([]domain.LedgerEntry, 0, n)
	for i := len(records) - 1; i >= len(records)-n; i-- {
		out = append(out, records[i].Entry)
	}
	return out
}
