package ledger

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/ledger"
	segmentLimit = 1000
	maxSegments  = 1 << 20

	keyPrefix = "ledger_"
)

// walRecord ledger entry as stored in the WAL.
type walRecord struct {
	domain.LedgerEntry
	TimestampMs int64  `json:"timestamp_ms"`
	Time        string `json:"time"`
}

// WALStore persists ledger entries in a WAL and serves reads from an
// in-memory per-instrument index rebuilt on open.
type WALStore struct {
	wal   *gowal.Wal
	mu    sync.RWMutex
	index map[string][]domain.LedgerRecord
}

// NewWALStore opens the WAL under dir and replays it.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "ledger_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init ledger WAL")
	}

	s := &WALStore{wal: wal, index: make(map[string][]domain.LedgerRecord)}
	if err := s.replay(); err != nil {
		_ = wal.Close()
		return nil, err
	}
	return s, nil
}

func (s *WALStore) replay() error {
	var idx uint64
	for msg := range s.wal.Iterator() {
		idx++
		if !strings.HasPrefix(msg.Key, keyPrefix) {
			continue
		}
		var rec walRecord
		if err := json.Unmarshal(msg.Value, &rec); err != nil {
			return errors.Wrapf(err, "decode ledger record %d", idx)
		}
		rec.Timestamp = domain.NormalizeLedgerTime(time.UnixMilli(rec.TimestampMs))
		id := strings.TrimPrefix(msg.Key, keyPrefix)
		s.index[id] = append(s.index[id], domain.LedgerRecord{Index: idx, Entry: rec.LedgerEntry})
	}
	return nil
}

// Append writes entry to the WAL.
func (s *WALStore) Append(entry domain.LedgerEntry) (domain.LedgerRecord, error) {
	if s == nil || s.wal == nil {
		return domain.LedgerRecord{}, errNotInitialized
	}
	if entry.Instrument == "" {
		return domain.LedgerRecord{}, errors.New("ledger entry instrument is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var last int64
	if prev := s.index[entry.Instrument]; len(prev) > 0 {
		last = prev[len(prev)-1].Entry.EpochMillis()
	}
	entry.Timestamp = time.UnixMilli(nextTimestamp(last, domain.NormalizeLedgerTime(entry.Timestamp).UnixMilli())).UTC()

	payload, err := json.Marshal(walRecord{
		LedgerEntry: entry,
		TimestampMs: entry.EpochMillis(),
		Time:        entry.HumanTime(),
	})
	if err != nil {
		return domain.LedgerRecord{}, errors.Wrap(err, "marshal ledger entry")
	}

	next := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(next, keyPrefix+entry.Instrument, payload); err != nil {
		return domain.LedgerRecord{}, errors.Wrap(err, "write ledger entry")
	}

	rec := domain.LedgerRecord{Index: next, Entry: entry}
	s.index[entry.Instrument] = append(s.index[entry.Instrument], rec)
	return rec, nil
}

// Recent returns up to n newest entries for instrument, newest first.
func (s *WALStore) Recent(instrument string, n int) ([]domain.LedgerEntry, error) {
	if s == nil || s.wal == nil {
		return nil, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return tail(s.index[instrument], n), nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
