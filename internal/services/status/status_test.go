package status

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

type fakeAccount struct {
	balances []domain.Balance
	books    map[string]domain.OrderBook
	avg      map[string]decimal.Decimal
	bookErr  error
	avgErr   error
	avgCalls atomic.Int32
}

func (f *fakeAccount) Balances(context.Context) ([]domain.Balance, error) {
	return f.balances, nil
}

func (f *fakeAccount) OrderBook(_ context.Context, pair domain.Pair) (domain.OrderBook, error) {
	if f.bookErr != nil {
		return domain.OrderBook{}, f.bookErr
	}
	return f.books[pair.From], nil
}

func (f *fakeAccount) AverageBuyPrice(_ context.Context, pair domain.Pair) (decimal.Decimal, error) {
	f.avgCalls.Add(1)
	if f.avgErr != nil {
		return decimal.Zero, f.avgErr
	}
	return f.avg[pair.From], nil
}

func instruments() []domain.Instrument {
	return []domain.Instrument{
		domain.NewInstrument(domain.Pair{From: "BTC", To: "KRW"}),
		domain.NewInstrument(domain.Pair{From: "SOL", To: "KRW"}),
	}
}

func TestSnapshot(t *testing.T) {
	account := &fakeAccount{
		balances: []domain.Balance{
			{Asset: "KRW", Free: decimal.NewFromInt(1_000_000)},
			{Asset: "BTC", Free: decimal.RequireFromString("0.01")},
		},
		books: map[string]domain.OrderBook{
			"BTC": {BestBid: decimal.NewFromInt(99_000_000), BestAsk: decimal.NewFromInt(100_000_000)},
			"SOL": {BestBid: decimal.NewFromInt(199_000), BestAsk: decimal.NewFromInt(200_000)},
		},
		avg: map[string]decimal.Decimal{"BTC": decimal.NewFromInt(90_000_000)},
	}

	snap, err := NewReader(account, nil).Snapshot(context.Background(), instruments())
	require.NoError(t, err)
	require.Len(t, snap.Instruments, 2)
	assert.False(t, snap.Taken.IsZero())
	assert.True(t, snap.Cash.Equal(decimal.NewFromInt(1_000_000)))

	btc := snap.Instruments[0]
	assert.Equal(t, "BTC", btc.Position.Instrument.ID)
	assert.True(t, btc.Position.Quantity.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, btc.Position.AvgPrice.Equal(decimal.NewFromInt(90_000_000)))
	assert.True(t, btc.Price().Equal(decimal.NewFromInt(100_000_000)))

	sol := snap.Instruments[1]
	assert.Equal(t, "SOL", sol.Position.Instrument.ID)
	assert.True(t, sol.Position.Quantity.IsZero())
	assert.True(t, sol.Position.AvgPrice.IsZero())
	assert.True(t, sol.Position.Cash.Equal(decimal.NewFromInt(1_000_000)))

	// average price is only read for held assets
	assert.EqualValues(t, 1, account.avgCalls.Load())

	assert.True(t, snap.Valuation(nil).Equal(decimal.NewFromInt(2_000_000)))
	assert.True(t, snap.Valuation(map[string]bool{"BTC": true}).Equal(decimal.NewFromInt(1_000_000)))
}

func TestSnapshotErrors(t *testing.T) {
	account := &fakeAccount{bookErr: errors.New("timeout")}
	_, err := NewReader(account, nil).Snapshot(context.Background(), instruments())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order book")
}

func TestSnapshotAvgPriceFailureIsNotFatal(t *testing.T) {
	account := &fakeAccount{
		balances: []domain.Balance{{Asset: "BTC", Free: decimal.NewFromInt(1)}},
		books:    map[string]domain.OrderBook{},
		avgErr:   errors.New("rate limited"),
	}
	snap, err := NewReader(account, nil).Snapshot(context.Background(), instruments()[:1])
	require.NoError(t, err)
	assert.True(t, snap.Instruments[0].Position.AvgPrice.IsZero())
	assert.True(t, snap.Cash.IsZero())
}

func TestSnapshotEmpty(t *testing.T) {
	snap, err := NewReader(&fakeAccount{}, nil).Snapshot(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, snap.Instruments)
}
