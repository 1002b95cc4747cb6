package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

type fakeProvider struct {
	mu      sync.Mutex
	candles map[string]int
	err     error
	limits  map[string]int
}

func (f *fakeProvider) Klines(_ context.Context, _ domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.limits == nil {
		f.limits = map[string]int{}
	}
	f.limits[interval] = limit

	n := f.candles[interval]
	if n > limit {
		n = limit
	}
	out := make([]domain.MarketCandle, n)
	for i := range out {
		price := decimal.NewFromInt(int64(100 + i))
		out[i] = domain.MarketCandle{
			OpenTime: time.Unix(int64(i)*3600, 0).UTC(),
			Open:     price,
			High:     price.Add(decimal.NewFromInt(1)),
			Low:      price.Sub(decimal.NewFromInt(1)),
			Close:    price,
			Volume:   decimal.NewFromInt(1),
		}
	}
	return out, nil
}

func TestCollectTrimsWarmup(t *testing.T) {
	provider := &fakeProvider{candles: map[string]int{IntervalDaily: 500, IntervalHourly: 500}}
	c := NewMarketDataCollector(provider, Options{DailyBars: 30, HourlyBars: 24, Warmup: 40})

	inst := domain.NewInstrument(domain.Pair{From: "BTC", To: "USDT"})
	daily, hourly, err := c.Collect(context.Background(), inst)
	require.NoError(t, err)

	assert.Equal(t, 70, provider.limits[IntervalDaily])
	assert.Equal(t, 64, provider.limits[IntervalHourly])

	require.Len(t, daily.Candles, 30)
	require.Len(t, daily.Indicators, 30)
	require.Len(t, hourly.Candles, 24)

	// warmup history populates even the oldest reported bar
	assert.True(t, daily.Indicators[0].SMA20.Valid)
	assert.True(t, hourly.Indicators[0].RSI14.Valid)

	last, ok := daily.LatestPrice()
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(169).Equal(last))
}

func TestCollectShortHistoryKeepsAbsentColumns(t *testing.T) {
	provider := &fakeProvider{candles: map[string]int{IntervalDaily: 5, IntervalHourly: 5}}
	c := NewMarketDataCollector(provider, Options{DailyBars: 30, HourlyBars: 24, Warmup: 40})

	daily, _, err := c.Collect(context.Background(), domain.NewInstrument(domain.Pair{From: "SOL", To: "USDT"}))
	require.NoError(t, err)
	require.Len(t, daily.Candles, 5)
	assert.False(t, daily.Indicators[4].SMA20.Valid)
	assert.True(t, daily.Indicators[4].SMA5.Valid)
}

func TestCollectErrors(t *testing.T) {
	inst := domain.NewInstrument(domain.Pair{From: "XRP", To: "USDT"})

	t.Run("provider failure", func(t *testing.T) {
		c := NewMarketDataCollector(&fakeProvider{err: errors.New("boom")}, Options{})
		_, _, err := c.Collect(context.Background(), inst)
		assert.ErrorContains(t, err, "boom")
	})

	t.Run("empty series", func(t *testing.T) {
		c := NewMarketDataCollector(&fakeProvider{candles: map[string]int{}}, Options{})
		_, _, err := c.Collect(context.Background(), inst)
		assert.ErrorContains(t, err, "no kline data")
	})
}
