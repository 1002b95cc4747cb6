package collector

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/services/market/indicators"
	"golang.org/x/sync/errgroup"
)

const (
	IntervalDaily  = "1d"
	IntervalHourly = "1h"

	// DefaultWarmup covers the slowest indicator (MACD 26 + signal 9).
	DefaultWarmup = 40

	fetchTimeout = 30 * time.Second
)

// KlineProvider defines the interface for fetching kline (candlestick) data.
type KlineProvider interface {
	// Klines returns up to limit most recent candles for interval, oldest first.
	Klines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
}

// Options history depth per timeframe. Warmup extra bars are fetched so
// indicators are populated across the reported window, then trimmed.
type Options struct {
	DailyBars  int
	HourlyBars int
	Warmup     int
}

// MarketDataCollector fetches daily and hourly series and derives indicators.
type MarketDataCollector struct {
	provider KlineProvider
	opts     Options
}

// NewMarketDataCollector creates a new market data collector.
func NewMarketDataCollector(provider KlineProvider, opts Options) *MarketDataCollector {
	if opts.DailyBars <= 0 {
		opts.DailyBars = 30
	}
	if opts.HourlyBars <= 0 {
		opts.HourlyBars = 24
	}
	if opts.Warmup < 0 {
		opts.Warmup = 0
	}

	return &MarketDataCollector{provider: provider, opts: opts}
}

// Collect fetches both timeframes of one instrument concurrently.
func (c *MarketDataCollector) Collect(ctx context.Context, inst domain.Instrument) (daily, hourly *domain.Timeframe, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var e error
		daily, e = c.FetchTimeframe(gctx, inst.Pair, IntervalDaily, c.opts.DailyBars)
		return e
	})
	g.Go(func() error {
		var e error
		hourly, e = c.FetchTimeframe(gctx, inst.Pair, IntervalHourly, c.opts.HourlyBars)
		return e
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return daily, hourly, nil
}

// FetchTimeframe fetches bars plus warmup candles, derives indicators over the
// whole fetched history and returns the last bars of it.
func (c *MarketDataCollector) FetchTimeframe(ctx context.Context, pair domain.Pair, interval string, bars int) (*domain.Timeframe, error) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	candles, err := c.provider.Klines(ctxWithTimeout, pair, interval, bars+c.opts.Warmup)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines for timeframe %s", interval)
	}

	if len(candles) == 0 {
		return nil, errors.Errorf("no kline data returned for %s timeframe %s", pair.String(), interval)
	}

	rows := indicators.Prepare(candles)

	if len(candles) > bars {
		skip := len(candles) - bars
		candles = candles[skip:]
		rows = rows[skip:]
	}

	return domain.NewTimeframe(interval, candles, rows), nil
}
