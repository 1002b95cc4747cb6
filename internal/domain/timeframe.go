package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketCandle single OHLCV candlestick.
type MarketCandle struct {
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"-"`
}

// IndicatorRow derived columns for one bar.
// A column that lacks enough history is invalid (serialised as null), never zero.
type IndicatorRow struct {
	SMA3  decimal.NullDecimal `json:"sma_3"`
	SMA5  decimal.NullDecimal `json:"sma_5"`
	SMA10 decimal.NullDecimal `json:"sma_10"`
	SMA20 decimal.NullDecimal `json:"sma_20"`
	EMA3  decimal.NullDecimal `json:"ema_3"`
	EMA5  decimal.NullDecimal `json:"ema_5"`
	EMA10 decimal.NullDecimal `json:"ema_10"`
	EMA20 decimal.NullDecimal `json:"ema_20"`

	RSI14  decimal.NullDecimal `json:"rsi_14"`
	StochK decimal.NullDecimal `json:"stoch_k"`
	StochD decimal.NullDecimal `json:"stoch_d"`

	MACD       decimal.NullDecimal `json:"macd"`
	MACDSignal decimal.NullDecimal `json:"macd_signal"`
	MACDHist   decimal.NullDecimal `json:"macd_hist"`

	BBUpper  decimal.NullDecimal `json:"bb_upper"`
	BBMiddle decimal.NullDecimal `json:"bb_middle"`
	BBLower  decimal.NullDecimal `json:"bb_lower"`
}

// Bar candle together with its derived columns.
type Bar struct {
	MarketCandle
	IndicatorRow
}

// Timeframe candlestick series with an indicator row aligned to every candle.
type Timeframe struct {
	Interval   string
	Candles    []MarketCandle
	Indicators []IndicatorRow
}

// NewTimeframe constructs a Timeframe. Missing trailing rows are padded
// with empty (all-absent) rows so indexes always line up with candles.
func NewTimeframe(interval string, candles []MarketCandle, indicators []IndicatorRow) *Timeframe {
	rows := make([]IndicatorRow, len(candles))
	copy(rows, indicators)

	return &Timeframe{
		Interval:   interval,
		Candles:    candles,
		Indicators: rows,
	}
}

// Bars returns candles joined with their indicator rows, oldest first.
func (t *Timeframe) Bars() []Bar {
	if t == nil {
		return nil
	}

	bars := make([]Bar, len(t.Candles))
	for i, c := range t.Candles {
		bars[i] = Bar{MarketCandle: c, IndicatorRow: t.Indicators[i]}
	}
	return bars
}

// LatestCandle returns the most recent candlestick.
func (t *Timeframe) LatestCandle() (MarketCandle, bool) {
	if t == nil || len(t.Candles) == 0 {
		return MarketCandle{}, false
	}
	return t.Candles[len(t.Candles)-1], true
}

// LatestPrice returns the close price.
func (t *Timeframe) LatestPrice() (decimal.Decimal, bool) {
	candle, ok := t.LatestCandle()
	if !ok {
		return decimal.Zero, false
	}
	return candle.Close, true
}
