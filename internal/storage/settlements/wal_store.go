// Package settlements keeps an append-only audit log of cycle summaries.
package settlements

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	DefaultDir   = "./wal/settlements"
	segmentLimit = 1000
	maxSegments  = 1 << 20

	summaryKey = "cycle_summary"
)

// WALStore persists cycle summaries in a WAL.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore initializes a WAL-backed settlement store.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "settlement_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init settlement WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the summary.
func (s *WALStore) Save(summary domain.CycleSummary) error {
	if s == nil || s.wal == nil {
		return errors.New("settlement store is not initialized")
	}
	if summary.CycleID == "" {
		return errors.New("cycle summary id is required")
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "marshal cycle summary")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, summaryKey, payload)
}

// All returns every stored summary, oldest first.
func (s *WALStore) All() ([]domain.CycleSummary, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New("settlement store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.CycleSummary
	for msg := range s.wal.Iterator() {
		if msg.Key != summaryKey {
			continue
		}
		var summary domain.CycleSummary
		if err := json.Unmarshal(msg.Value, &summary); err != nil {
			return nil, errors.Wrap(err, "decode cycle summary")
		}
		out = append(out, summary)
	}
	return out, nil
}

// Last returns the most recent summary, if any.
func (s *WALStore) Last() (domain.CycleSummary, bool, error) {
	all, err := s.All()
	if err != nil || len(all) == 0 {
		return domain.CycleSummary{}, false, err
	}
	return all[len(all)-1], true, nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("settlement store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
