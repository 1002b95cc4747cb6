// Package trader implements the exchange capability: account reads, market
// data and market orders, against Binance spot or a local simulator.
package trader

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
)

// Exchange capability used by the trading cycle.
type Exchange interface {
	MarketSource

	// Balances returns every non-empty asset balance of the account.
	Balances(ctx context.Context) ([]domain.Balance, error)
	// AverageBuyPrice returns the average acquisition price of the base asset
	// currently held, zero when nothing is held.
	AverageBuyPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	// BuyMarket spends quoteAmount of the quote currency.
	BuyMarket(ctx context.Context, pair domain.Pair, quoteAmount decimal.Decimal, clientOrderID string) error
	// SellMarket sells quantity of the base currency.
	SellMarket(ctx context.Context, pair domain.Pair, quantity decimal.Decimal, clientOrderID string) error
	// Order returns the current state of the order placed with clientOrderID.
	Order(ctx context.Context, pair domain.Pair, clientOrderID string) (domain.OrderRecord, error)
}

// MarketSource public market data.
type MarketSource interface {
	Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
	OrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error)
	Klines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error)
	// Halted returns the pairs the exchange currently does not trade.
	Halted(ctx context.Context, pairs []domain.Pair) ([]domain.Pair, error)
}

// Balance returns the free amount of asset, zero when absent.
func Balance(balances []domain.Balance, asset string) domain.Balance {
	for _, b := range balances {
		if b.Asset == asset {
			return b
		}
	}
	return domain.Balance{Asset: asset}
}
