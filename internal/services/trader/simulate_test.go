package trader

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/storage/simstate"
)

type stubMarket struct {
	book   domain.OrderBook
	price  decimal.Decimal
	err    error
	halted []domain.Pair
}

func (m *stubMarket) Price(context.Context, domain.Pair) (decimal.Decimal, error) {
	return m.price, m.err
}

func (m *stubMarket) OrderBook(context.Context, domain.Pair) (domain.OrderBook, error) {
	return m.book, m.err
}

func (m *stubMarket) Klines(context.Context, domain.Pair, string, int) ([]domain.MarketCandle, error) {
	return nil, m.err
}

func (m *stubMarket) Halted(context.Context, []domain.Pair) ([]domain.Pair, error) {
	return m.halted, m.err
}

var btcKRW = domain.Pair{From: "BTC", To: "KRW"}

func newSim(t *testing.T, market MarketSource, store *simstate.Store) *SimulateExchange {
	t.Helper()
	ex, err := NewSimulateExchange(market, SimulateOptions{
		QuoteAsset:   "KRW",
		InitialQuote: decimal.NewFromInt(1_000_000),
		FeeRate:      decimal.RequireFromString("0.001"),
		Store:        store,
	}, nil)
	require.NoError(t, err)
	return ex
}

func TestSimulateBuyAppliesFee(t *testing.T) {
	market := &stubMarket{book: domain.OrderBook{
		BestBid: decimal.NewFromInt(99_000),
		BestAsk: decimal.NewFromInt(100_000),
	}}
	ex := newSim(t, market, nil)
	ctx := context.Background()

	require.NoError(t, ex.BuyMarket(ctx, btcKRW, decimal.NewFromInt(500_000), "buy-1"))

	rec, err := ex.Order(ctx, btcKRW, "buy-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeOrderFilled, rec.Status)
	assert.True(t, rec.Fee.Equal(decimal.NewFromInt(500)), rec.Fee.String())
	assert.True(t, rec.FilledQuantity.Equal(decimal.RequireFromString("4.995")), rec.FilledQuantity.String())

	balances, err := ex.Balances(ctx)
	require.NoError(t, err)
	assert.True(t, Balance(balances, "KRW").Free.Equal(decimal.NewFromInt(500_000)))
	assert.True(t, Balance(balances, "BTC").Free.Equal(decimal.RequireFromString("4.995")))

	avg, err := ex.AverageBuyPrice(ctx, btcKRW)
	require.NoError(t, err)
	assert.True(t, avg.Equal(decimal.NewFromInt(100_000)))
}

func TestSimulateSell(t *testing.T) {
	market := &stubMarket{book: domain.OrderBook{
		BestBid: decimal.NewFromInt(100_000),
		BestAsk: decimal.NewFromInt(100_000),
	}}
	ex := newSim(t, market, nil)
	ctx := context.Background()

	require.NoError(t, ex.BuyMarket(ctx, btcKRW, decimal.NewFromInt(1_000_000), "buy"))
	held := Balance(mustBalances(t, ex), "BTC").Free

	err := ex.SellMarket(ctx, btcKRW, held.Add(decimal.NewFromInt(1)), "too-much")
	assert.Error(t, err)

	require.NoError(t, ex.SellMarket(ctx, btcKRW, held, "sell"))
	rec, err := ex.Order(ctx, btcKRW, "sell")
	require.NoError(t, err)
	assert.True(t, rec.FilledQuantity.Equal(held))

	balances := mustBalances(t, ex)
	assert.True(t, Balance(balances, "BTC").Free.IsZero())
	// 1,000,000 minus the buy fee, then minus the sell fee
	assert.True(t, Balance(balances, "KRW").Free.Equal(decimal.RequireFromString("998001")),
		Balance(balances, "KRW").Free.String())

	avg, err := ex.AverageBuyPrice(ctx, btcKRW)
	require.NoError(t, err)
	assert.True(t, avg.IsZero())
}

func TestSimulateRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		market *stubMarket
		run    func(ex *SimulateExchange) error
	}{
		{
			name:   "non positive buy",
			market: &stubMarket{price: decimal.NewFromInt(1)},
			run: func(ex *SimulateExchange) error {
				return ex.BuyMarket(ctx, btcKRW, decimal.Zero, "x")
			},
		},
		{
			name:   "insufficient quote",
			market: &stubMarket{price: decimal.NewFromInt(1)},
			run: func(ex *SimulateExchange) error {
				return ex.BuyMarket(ctx, btcKRW, decimal.NewFromInt(2_000_000), "x")
			},
		},
		{
			name:   "market down",
			market: &stubMarket{err: errors.New("boom")},
			run: func(ex *SimulateExchange) error {
				return ex.BuyMarket(ctx, btcKRW, decimal.NewFromInt(10), "x")
			},
		},
		{
			name:   "sell without position",
			market: &stubMarket{price: decimal.NewFromInt(1)},
			run: func(ex *SimulateExchange) error {
				return ex.SellMarket(ctx, btcKRW, decimal.NewFromInt(1), "x")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newSim(t, tt.market, nil)
			assert.Error(t, tt.run(ex))

			rec, err := ex.Order(ctx, btcKRW, "x")
			require.NoError(t, err)
			assert.Equal(t, domain.ExchangeOrderNotFound, rec.Status)
		})
	}
}

func TestSimulateFallsBackToLastPrice(t *testing.T) {
	market := &stubMarket{price: decimal.NewFromInt(50_000)}
	ex := newSim(t, market, nil)

	require.NoError(t, ex.BuyMarket(context.Background(), btcKRW, decimal.NewFromInt(100_000), "id"))
	rec, err := ex.Order(context.Background(), btcKRW, "id")
	require.NoError(t, err)
	assert.True(t, rec.FilledQuantity.Equal(decimal.RequireFromString("1.998")), rec.FilledQuantity.String())
}

func TestSimulateRestoresState(t *testing.T) {
	store, err := simstate.NewStoreAt(t.TempDir(), "paper")
	require.NoError(t, err)

	market := &stubMarket{price: decimal.NewFromInt(100_000)}
	first := newSim(t, market, store)
	require.NoError(t, first.BuyMarket(context.Background(), btcKRW, decimal.NewFromInt(200_000), "id"))

	second := newSim(t, market, store)
	balances := mustBalances(t, second)
	assert.True(t, Balance(balances, "KRW").Free.Equal(decimal.NewFromInt(800_000)))
	assert.True(t, Balance(balances, "BTC").Free.Equal(decimal.RequireFromString("1.998")))
}

func mustBalances(t *testing.T, ex Exchange) []domain.Balance {
	t.Helper()
	b, err := ex.Balances(context.Background())
	require.NoError(t, err)
	return b
}
