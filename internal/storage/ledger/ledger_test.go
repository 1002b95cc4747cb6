package ledger

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

var d = decimal.RequireFromString

func openStores(t *testing.T) map[string]func() Store {
	t.Helper()
	return map[string]func() Store{
		DriverWAL: func() Store {
			s, err := NewWALStore(filepath.Join(t.TempDir(), "wal"))
			require.NoError(t, err)
			return s
		},
		DriverSQLite: func() Store {
			s, err := NewGormStore(filepath.Join(t.TempDir(), "ledger.db"))
			require.NoError(t, err)
			return s
		},
	}
}

func sampleEntry(instrument string, ts time.Time, rationale string) domain.LedgerEntry {
	return domain.LedgerEntry{
		Timestamp:           ts,
		CycleID:             "cycle-1",
		Instrument:          instrument,
		Model:               "gpt-4o",
		Action:              domain.ActionBuy,
		Intensity:           d("0.35"),
		Rationale:           rationale,
		PositionQuantity:    d("0.01234567"),
		CashBalance:         d("1500000.5"),
		AvgAcquisitionPrice: d("95000000"),
		MarketPrice:         d("96123456.78"),
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	for name, open := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			ts := time.Date(2024, 3, 1, 23, 1, 2, 345_678_900, time.FixedZone("KST", 9*3600))
			entry := sampleEntry("BTC", ts, "momentum turning up")
			entry.Outcome = &domain.OrderOutcome{
				Instrument:     "BTC",
				Side:           domain.SideBuy,
				ClientOrderID:  "cid-1",
				State:          domain.OrderStateDone,
				FilledQuantity: d("0.01"),
				QuoteAmount:    d("961234.57"),
				Fee:            d("500"),
			}

			rec, err := s.Append(entry)
			require.NoError(t, err)
			assert.NotZero(t, rec.Index)

			got, err := s.Recent("BTC", 5)
			require.NoError(t, err)
			require.Len(t, got, 1)

			e := got[0]
			assert.Equal(t, ts.UnixMilli(), e.EpochMillis())
			assert.Equal(t, "2024-03-01T14:01:02.345Z", e.HumanTime())
			parsed, err := domain.ParseLedgerTime(e.HumanTime())
			require.NoError(t, err)
			assert.Equal(t, e.EpochMillis(), parsed.UnixMilli())

			assert.Equal(t, domain.ActionBuy, e.Action)
			assert.Equal(t, "momentum turning up", e.Rationale)
			assert.Equal(t, "cycle-1", e.CycleID)
			assert.True(t, d("0.35").Equal(e.Intensity))
			assert.True(t, d("0.01234567").Equal(e.PositionQuantity))
			assert.True(t, d("1500000.5").Equal(e.CashBalance))
			assert.True(t, d("95000000").Equal(e.AvgAcquisitionPrice))
			assert.True(t, d("96123456.78").Equal(e.MarketPrice))
			require.NotNil(t, e.Outcome)
			assert.Equal(t, domain.OrderStateDone, e.Outcome.State)
			assert.True(t, d("500").Equal(e.Outcome.Fee))
		})
	}
}

func TestLedgerRecentNewestFirst(t *testing.T) {
	for name, open := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			base := time.UnixMilli(1_700_000_000_000)
			for i := 0; i < 5; i++ {
				_, err := s.Append(sampleEntry("BTC", base.Add(time.Duration(i)*time.Hour), fmt.Sprintf("btc-%d", i)))
				require.NoError(t, err)
				_, err = s.Append(sampleEntry("SOL", base.Add(time.Duration(i)*time.Hour), fmt.Sprintf("sol-%d", i)))
				require.NoError(t, err)
			}

			got, err := s.Recent("BTC", 3)
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, []string{"btc-4", "btc-3", "btc-2"}, []string{got[0].Rationale, got[1].Rationale, got[2].Rationale})

			all, err := s.Recent("SOL", 100)
			require.NoError(t, err)
			assert.Len(t, all, 5)

			none, err := s.Recent("ETH", 3)
			require.NoError(t, err)
			assert.Empty(t, none)

			zero, err := s.Recent("BTC", 0)
			require.NoError(t, err)
			assert.Empty(t, zero)
		})
	}
}

func TestLedgerTimestampsStrictlyIncrease(t *testing.T) {
	for name, open := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			ts := time.UnixMilli(1_700_000_000_000)
			for i := 0; i < 3; i++ {
				_, err := s.Append(sampleEntry("BTC", ts, fmt.Sprintf("n%d", i)))
				require.NoError(t, err)
			}
			_, err := s.Append(sampleEntry("BTC", ts.Add(-time.Minute), "clock went back"))
			require.NoError(t, err)

			got, err := s.Recent("BTC", 10)
			require.NoError(t, err)
			require.Len(t, got, 4)
			assert.Equal(t, "clock went back", got[0].Rationale)
			for i := 1; i < len(got); i++ {
				assert.Greater(t, got[i-1].EpochMillis(), got[i].EpochMillis())
			}
			assert.Equal(t, ts.UnixMilli(), got[3].EpochMillis())
		})
	}
}

func TestWALStoreReplaysOnOpen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "wal")
	s, err := NewWALStore(dir)
	require.NoError(t, err)

	ts := time.UnixMilli(1_700_000_000_123)
	_, err = s.Append(sampleEntry("BTC", ts, "first"))
	require.NoError(t, err)
	_, err = s.Append(sampleEntry("BTC", ts.Add(time.Second), "second"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewWALStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Recent("BTC", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "second", got[0].Rationale)
	assert.Equal(t, ts.UnixMilli(), got[1].EpochMillis())
	assert.True(t, d("96123456.78").Equal(got[1].MarketPrice))

	rec, err := reopened.Append(sampleEntry("BTC", ts, "third"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), rec.Index)
	assert.Equal(t, ts.Add(time.Second).UnixMilli()+1, rec.Entry.EpochMillis())
}

func TestLedgerConcurrentReadsDuringWrites(t *testing.T) {
	for name, open := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			defer s.Close()

			const writes = 50
			base := time.UnixMilli(1_700_000_000_000)

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < writes; i++ {
					_, err := s.Append(sampleEntry("BTC", base.Add(time.Duration(i)*time.Second), fmt.Sprintf("%d", i)))
					assert.NoError(t, err)
				}
			}()

			for r := 0; r < 4; r++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < writes; i++ {
						got, err := s.Recent("BTC", 10)
						assert.NoError(t, err)
						for j := 1; j < len(got); j++ {
							assert.Greater(t, got[j-1].EpochMillis(), got[j].EpochMillis())
						}
					}
				}()
			}
			wg.Wait()

			got, err := s.Recent("BTC", writes+1)
			require.NoError(t, err)
			assert.Len(t, got, writes)
		})
	}
}

func TestRecentByInstrument(t *testing.T) {
	s, err := NewWALStore(filepath.Join(t.TempDir(), "wal"))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Append(sampleEntry("BTC", time.UnixMilli(1), "a"))
	require.NoError(t, err)

	history, err := RecentByInstrument(s, []string{"BTC", "SOL"}, 10)
	require.NoError(t, err)
	assert.Len(t, history["BTC"], 1)
	assert.Empty(t, history["SOL"])
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mongo", t.TempDir())
	assert.Error(t, err)
}
