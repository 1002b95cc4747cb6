// Package collector fetches candle history and prepares indicator timeframes.
package collector

import (
	"context"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

// BinanceKlineProvider implements KlineProvider for Binance exchange.
type BinanceKlineProvider struct {
	client *binance.Client
}

// NewBinanceKlineProvider creates a new Binance kline provider.
func NewBinanceKlineProvider(client *binance.Client) *BinanceKlineProvider {
	return &BinanceKlineProvider{client: client}
}

// Klines fetches up to limit candles, oldest first.
func (p *BinanceKlineProvider) Klines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	klines, err := p.client.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch klines from Binance for %s", pair.String())
	}

	result := make([]domain.MarketCandle, 0, len(klines))
	for i, k := range klines {
		candle, err := parseKline(k)
		if err != nil {
			return nil, errors.Wrapf(err, "kline %d of %s", i, pair.String())
		}
		result = append(result, candle)
	}

	return result, nil
}

func parseKline(k *binance.Kline) (domain.MarketCandle, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	names := [5]string{"open", "high", "low", "close", "volume"}

	var parsed [5]decimal.Decimal
	for i, raw := range fields {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return domain.MarketCandle{}, errors.Wrapf(err, "failed to parse %s", names[i])
		}
		parsed[i] = v
	}

	return domain.MarketCandle{
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
		CloseTime: time.UnixMilli(k.CloseTime).UTC(),
	}, nil
}
