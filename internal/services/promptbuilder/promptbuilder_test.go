package promptbuilder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

func testContext() Context {
	btc := domain.NewInstrument(domain.Pair{From: "BTC", To: "KRW"})
	taken := time.Date(2024, 3, 9, 14, 1, 2, 345_000_000, time.UTC)

	candles := []domain.MarketCandle{
		{OpenTime: taken.Add(-time.Hour), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(2),
			Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(2), Volume: decimal.NewFromInt(10)},
	}
	rows := []domain.IndicatorRow{{SMA3: decimal.NewNullDecimal(decimal.NewFromInt(2))}}

	return Context{
		Markets: []domain.MarketSnapshot{{
			Instrument: btc,
			Timestamp:  taken,
			Book:       domain.OrderBook{BestBid: decimal.NewFromInt(99), BestAsk: decimal.NewFromInt(100)},
			Daily:      domain.NewTimeframe("1d", candles, rows),
			Hourly:     domain.NewTimeframe("1h", candles, nil),
		}},
		History: map[string][]domain.LedgerEntry{
			"BTC": {{
				Timestamp:   taken,
				Instrument:  "BTC",
				Action:      domain.ActionBuy,
				Intensity:   decimal.RequireFromString("0.5"),
				Rationale:   "breakout",
				MarketPrice: decimal.NewFromInt(100),
			}},
		},
		Status: domain.StatusSnapshot{
			Taken: taken,
			Cash:  decimal.NewFromInt(1_000_000),
			Instruments: []domain.InstrumentStatus{{
				Position: domain.AccountPosition{
					Instrument: btc,
					Quantity:   decimal.NewFromInt(2),
					AvgPrice:   decimal.NewFromInt(80),
				},
				Book: domain.OrderBook{BestAsk: decimal.NewFromInt(100)},
			}},
		},
	}
}

func TestBuildOrder(t *testing.T) {
	pb := NewPromptBuilder("", nil)
	messages, err := pb.Build(testContext())
	require.NoError(t, err)
	require.Len(t, messages, 6)

	assert.Equal(t, RoleSystem, messages[0].Role)
	assert.Equal(t, DefaultInstructions, messages[0].Content)
	for _, m := range messages[1:] {
		assert.Equal(t, RoleUser, m.Role)
	}

	assert.Equal(t, noNews, messages[1].Content)
	assert.Equal(t, noFearGreed, messages[4].Content)

	market := messages[2].Content
	assert.Equal(t, "BTC", gjson.Get(market, "0.instrument").String())
	assert.Equal(t, "BTCKRW", gjson.Get(market, "0.ticker").String())
	assert.Equal(t, "2", gjson.Get(market, "0.daily.0.sma_3").String())
	assert.Equal(t, gjson.Null, gjson.Get(market, "0.daily.0.sma_20").Type)
	assert.Equal(t, gjson.Null, gjson.Get(market, "0.hourly.0.rsi_14").Type)

	history := messages[3].Content
	assert.Equal(t, int64(1709992862345), gjson.Get(history, "BTC.0.timestamp_ms").Int())
	assert.Equal(t, "2024-03-09T14:01:02.345Z", gjson.Get(history, "BTC.0.time").String())
	assert.Equal(t, "buy", gjson.Get(history, "BTC.0.decision").String())
	assert.Equal(t, "50", gjson.Get(history, "BTC.0.percentage").String())

	status := messages[5].Content
	assert.Equal(t, "1000000", gjson.Get(status, "cash_balance").String())
	assert.Equal(t, "200", gjson.Get(status, "instruments.0.value").String())
	assert.Equal(t, "40", gjson.Get(status, "instruments.0.unrealized_pnl").String())
}

func TestBuildWithSentiment(t *testing.T) {
	c := testContext()
	ms := int64(1730707200000)
	c.News = []domain.NewsItem{{Title: "ETF approved", Source: "Reuters", PublishedMs: &ms}}
	c.FearGreed = []domain.FearGreedReading{{Value: 70, Classification: "Greed"}}

	messages, err := NewPromptBuilder("custom policy", nil).Build(c)
	require.NoError(t, err)

	assert.Equal(t, "custom policy", messages[0].Content)
	assert.Equal(t, "ETF approved", gjson.Get(messages[1].Content, "0.title").String())
	assert.Equal(t, ms, gjson.Get(messages[1].Content, "0.published_ms").Int())
	assert.Equal(t, int64(70), gjson.Get(messages[4].Content, "0.value").Int())
}

func TestLoadInstructions(t *testing.T) {
	text, err := LoadInstructions("")
	require.NoError(t, err)
	assert.True(t, strings.Contains(text, "percentage"))

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.md")
	require.NoError(t, os.WriteFile(path, []byte("  be careful \n"), 0o644))
	text, err = LoadInstructions(path)
	require.NoError(t, err)
	assert.Equal(t, "be careful", text)

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadInstructions(empty)
	assert.Error(t, err)

	_, err = LoadInstructions(filepath.Join(dir, "missing.md"))
	assert.Error(t, err)
}
