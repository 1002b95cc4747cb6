package config

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

// Policy immutable trading policy snapshot. A cycle reads one snapshot at
// its start and keeps it until it finishes.
type Policy struct {
	instruments    []domain.Instrument
	excluded       map[string]bool
	investFraction decimal.Decimal
	minNotional    decimal.Decimal
}

// NewPolicy builds a snapshot; inputs are copied.
func NewPolicy(instruments []domain.Instrument, excluded []string, investFraction, minNotional decimal.Decimal) *Policy {
	p := &Policy{
		instruments:    append([]domain.Instrument(nil), instruments...),
		excluded:       make(map[string]bool, len(excluded)),
		investFraction: investFraction,
		minNotional:    minNotional,
	}
	for _, id := range excluded {
		p.excluded[strings.ToUpper(id)] = true
	}
	return p
}

// Instruments every configured instrument in configured order.
func (p *Policy) Instruments() []domain.Instrument {
	return append([]domain.Instrument(nil), p.instruments...)
}

// Tradable configured instruments minus exclusions, in configured order.
func (p *Policy) Tradable() []domain.Instrument {
	out := make([]domain.Instrument, 0, len(p.instruments))
	for _, inst := range p.instruments {
		if !p.excluded[inst.ID] {
			out = append(out, inst)
		}
	}
	return out
}

// IsExcluded reports whether id must never be traded.
func (p *Policy) IsExcluded(id string) bool {
	return p.excluded[id]
}

// Excluded returns a copy of the exclusion set.
func (p *Policy) Excluded() map[string]bool {
	out := make(map[string]bool, len(p.excluded))
	for id := range p.excluded {
		out[id] = true
	}
	return out
}

// ExcludedList sorted exclusion ids.
func (p *Policy) ExcludedList() []string {
	out := make([]string, 0, len(p.excluded))
	for id := range p.excluded {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (p *Policy) InvestFraction() decimal.Decimal { return p.investFraction }
func (p *Policy) MinNotional() decimal.Decimal    { return p.minNotional }

// withExcluded returns a copy with ids added to the exclusion set.
func (p *Policy) withExcluded(ids []string) *Policy {
	next := NewPolicy(p.instruments, p.ExcludedList(), p.investFraction, p.minNotional)
	for _, id := range ids {
		next.excluded[strings.ToUpper(id)] = true
	}
	return next
}

// PolicyStore publishes policy snapshots.
type PolicyStore struct {
	current atomic.Pointer[Policy]

	mu        sync.Mutex
	runtime   map[string]bool
	listeners []func(*Policy)
}

// NewPolicyStore creates a store holding initial.
func NewPolicyStore(initial *Policy) *PolicyStore {
	s := &PolicyStore{runtime: make(map[string]bool)}
	s.current.Store(initial)
	return s
}

// Current returns the latest snapshot.
func (s *PolicyStore) Current() *Policy {
	return s.current.Load()
}

// Exclude adds ids to the exclusion set at runtime and returns those that
// were not excluded before. Runtime exclusions survive Replace.
func (s *PolicyStore) Exclude(ids ...string) []string {
	s.mu.Lock()
	cur := s.current.Load()
	var added []string
	for _, id := range ids {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" || cur.IsExcluded(id) || s.runtime[id] {
			continue
		}
		s.runtime[id] = true
		added = append(added, id)
	}
	if len(added) == 0 {
		s.mu.Unlock()
		return nil
	}
	next := cur.withExcluded(added)
	s.current.Store(next)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.notify(listeners, next)
	return added
}

// Replace publishes p, keeping runtime exclusions.
func (s *PolicyStore) Replace(p *Policy) {
	s.mu.Lock()
	runtime := make([]string, 0, len(s.runtime))
	for id := range s.runtime {
		runtime = append(runtime, id)
	}
	next := p.withExcluded(runtime)
	s.current.Store(next)
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()

	s.notify(listeners, next)
}

// Subscribe registers fn to be called with every new snapshot.
func (s *PolicyStore) Subscribe(fn func(*Policy)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *PolicyStore) notify(listeners []func(*Policy), p *Policy) {
	for _, fn := range listeners {
		fn(p)
	}
}
