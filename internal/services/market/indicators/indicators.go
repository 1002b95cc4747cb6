// Package indicators derives technical indicator columns from OHLCV series.
// Moving averages, RSI, MACD and Bollinger bands come from cinar/indicator;
// the slow stochastic comes from go-talib, which supports SMA smoothing of %K.
//
// Every column is aligned to the input candles. Leading values that lack
// enough history are absent (invalid NullDecimal), never zero.
package indicators

import (
	"math"
	"sync"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

const (
	RSIPeriod = 14

	StochFastK = 14
	StochSlowK = 3
	StochSlowD = 3

	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9

	BollingerPeriod = 20

	valuePrecision = 8
)

// MovingAverageWindows windows of the simple and exponential moving averages.
var MovingAverageWindows = []int{3, 5, 10, 20}

// Series float columns of a candle series.
type Series struct {
	Highs  []float64
	Lows   []float64
	Closes []float64
}

// NewSeries extracts float columns from candles.
func NewSeries(candles []domain.MarketCandle) Series {
	s := Series{
		Highs:  make([]float64, len(candles)),
		Lows:   make([]float64, len(candles)),
		Closes: make([]float64, len(candles)),
	}
	for i, c := range candles {
		s.Highs[i], _ = c.High.Float64()
		s.Lows[i], _ = c.Low.Float64()
		s.Closes[i], _ = c.Close.Float64()
	}
	return s
}

// Prepare returns one indicator row per candle. It never mutates candles.
func Prepare(candles []domain.MarketCandle) []domain.IndicatorRow {
	n := len(candles)
	rows := make([]domain.IndicatorRow, n)
	if n == 0 {
		return rows
	}

	s := NewSeries(candles)

	smas := make(map[int][]decimal.NullDecimal, len(MovingAverageWindows))
	emas := make(map[int][]decimal.NullDecimal, len(MovingAverageWindows))
	for _, w := range MovingAverageWindows {
		smas[w] = SMA(s.Closes, w)
		emas[w] = EMA(s.Closes, w)
	}

	rsi := RSI(s.Closes, RSIPeriod)
	k, d := Stochastic(s)
	macd, signal, hist := MACD(s.Closes)
	upper, middle, lower := Bollinger(s.Closes)

	for i := range rows {
		rows[i] = domain.IndicatorRow{
			SMA3:       smas[3][i],
			SMA5:       smas[5][i],
			SMA10:      smas[10][i],
			SMA20:      smas[20][i],
			EMA3:       emas[3][i],
			EMA5:       emas[5][i],
			EMA10:      emas[10][i],
			EMA20:      emas[20][i],
			RSI14:      rsi[i],
			StochK:     k[i],
			StochD:     d[i],
			MACD:       macd[i],
			MACDSignal: signal[i],
			MACDHist:   hist[i],
			BBUpper:    upper[i],
			BBMiddle:   middle[i],
			BBLower:    lower[i],
		}
	}

	return rows
}

// PrepareTimeframe builds a timeframe with indicator rows for candles.
func PrepareTimeframe(interval string, candles []domain.MarketCandle) *domain.Timeframe {
	return domain.NewTimeframe(interval, candles, Prepare(candles))
}

// SMA simple moving average over period closes.
func SMA(closes []float64, period int) []decimal.NullDecimal {
	if period <= 0 || len(closes) < period {
		return absent(len(closes))
	}

	sma := trend.NewSmaWithPeriod[float64](period)
	out := helper.ChanToSlice(sma.Compute(helper.SliceToChan(closes)))

	return alignRight(out, len(closes))
}

// EMA exponential moving average over period closes.
func EMA(closes []float64, period int) []decimal.NullDecimal {
	if period <= 0 || len(closes) < period {
		return absent(len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	out := helper.ChanToSlice(ema.Compute(helper.SliceToChan(closes)))

	return alignRight(out, len(closes))
}

// RSI relative strength index; needs period+1 closes.
func RSI(closes []float64, period int) []decimal.NullDecimal {
	if period <= 0 || len(closes) < period+1 {
		return absent(len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	out := helper.ChanToSlice(rsi.Compute(helper.SliceToChan(closes)))

	return alignRight(out, len(closes))
}

// MACD 12/26 EMA difference with a 9 period signal line and histogram.
// The line needs MACDSlow closes, signal and histogram MACDSlow+MACDSignal-1.
func MACD(closes []float64) (macd, signal, hist []decimal.NullDecimal) {
	n := len(closes)
	if n < MACDSlow {
		return absent(n), absent(n), absent(n)
	}

	fast := helper.ChanToSlice(trend.NewEmaWithPeriod[float64](MACDFast).Compute(helper.SliceToChan(closes)))
	slow := helper.ChanToSlice(trend.NewEmaWithPeriod[float64](MACDSlow).Compute(helper.SliceToChan(closes)))

	// both EMAs end on the last close
	fast = fast[len(fast)-len(slow):]
	line := make([]float64, len(slow))
	for i := range slow {
		line[i] = fast[i] - slow[i]
	}

	macd = alignRight(line, n)
	signal, hist = absent(n), absent(n)
	if len(line) < MACDSignal {
		return macd, signal, hist
	}

	signal = alignRight(helper.ChanToSlice(trend.NewEmaWithPeriod[float64](MACDSignal).Compute(helper.SliceToChan(line))), n)
	for i := range hist {
		if macd[i].Valid && signal[i].Valid {
			hist[i] = decimal.NewNullDecimal(macd[i].Decimal.Sub(signal[i].Decimal))
		}
	}

	return macd, signal, hist
}

// Bollinger 20 period bands at two standard deviations around the mean.
func Bollinger(closes []float64) (upper, middle, lower []decimal.NullDecimal) {
	n := len(closes)
	if n < BollingerPeriod {
		return absent(n), absent(n), absent(n)
	}

	upperChan, middleChan, lowerChan := volatility.NewBollingerBands[float64]().Compute(helper.SliceToChan(closes))
	outs := drain(upperChan, middleChan, lowerChan)

	return alignRight(outs[0], n), alignRight(outs[1], n), alignRight(outs[2], n)
}

// StochasticLookback number of leading bars without a 14/3/3 stochastic value.
const StochasticLookback = (StochFastK - 1) + (StochSlowK - 1) + (StochSlowD - 1)

// Stochastic slow stochastic oscillator (%K, %D), 14/3/3 with SMA smoothing.
func Stochastic(s Series) (k, d []decimal.NullDecimal) {
	n := len(s.Closes)
	k, d = absent(n), absent(n)
	if n <= StochasticLookback || len(s.Highs) != n || len(s.Lows) != n {
		return k, d
	}

	// talib pads the lookback region with zeros
	rawK, rawD := talib.Stoch(s.Highs, s.Lows, s.Closes, StochFastK, StochSlowK, talib.SMA, StochSlowD, talib.SMA)
	for i := StochasticLookback; i < n && i < len(rawK) && i < len(rawD); i++ {
		k[i] = toNull(rawK[i])
		d[i] = toNull(rawD[i])
	}

	return k, d
}

func drain(chans ...<-chan float64) [][]float64 {
	outs := make([][]float64, len(chans))

	var wg sync.WaitGroup
	for i, c := range chans {
		wg.Add(1)
		go func(i int, c <-chan float64) {
			defer wg.Done()
			outs[i] = helper.ChanToSlice(c)
		}(i, c)
	}
	wg.Wait()

	return outs
}

// alignRight places values at the tail of an n length column.
func alignRight(values []float64, n int) []decimal.NullDecimal {
	out := absent(n)
	if len(values) > n {
		values = values[len(values)-n:]
	}
	offset := n - len(values)
	for i, v := range values {
		out[offset+i] = toNull(v)
	}
	return out
}

func absent(n int) []decimal.NullDecimal {
	return make([]decimal.NullDecimal, n)
}

func toNull(v float64) decimal.NullDecimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(v).Round(valuePrecision))
}
