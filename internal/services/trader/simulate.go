package trader

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/storage/simstate"
	"go.uber.org/zap"
)

// SimulateExchange paper-trading spot account. Market data comes from a real
// MarketSource, orders fill immediately at the top of the book minus the fee.
type SimulateExchange struct {
	mu         sync.RWMutex
	market     MarketSource
	logger     *zap.Logger
	feeRate    decimal.Decimal
	wallet     map[string]decimal.Decimal
	avgPrices  map[string]decimal.Decimal
	orders     map[string]domain.OrderRecord
	stateStore *simstate.Store
}

// SimulateOptions initial account of a SimulateExchange.
type SimulateOptions struct {
	QuoteAsset   string
	InitialQuote decimal.Decimal
	FeeRate      decimal.Decimal
	// Store persists the wallet; nil keeps it in memory only.
	Store *simstate.Store
}

// NewSimulateExchange creates a simulator, restoring persisted state when present.
func NewSimulateExchange(market MarketSource, opts SimulateOptions, logger *zap.Logger) (*SimulateExchange, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if market == nil {
		return nil, errors.New("market source is required for SimulateExchange")
	}
	if opts.FeeRate.IsNegative() {
		return nil, errors.Errorf("fee rate must not be negative, got %s", opts.FeeRate.String())
	}

	ex := &SimulateExchange{
		market:     market,
		logger:     logger,
		feeRate:    opts.FeeRate,
		wallet:     map[string]decimal.Decimal{opts.QuoteAsset: opts.InitialQuote},
		avgPrices:  make(map[string]decimal.Decimal),
		orders:     make(map[string]domain.OrderRecord),
		stateStore: opts.Store,
	}
	if err := ex.restoreState(); err != nil {
		logger.Warn("failed to restore simulate state", zap.Error(err))
	}

	logger.Info("simulate init",
		zap.String("quote", opts.QuoteAsset),
		zap.String("quote_balance", ex.wallet[opts.QuoteAsset].String()),
		zap.String("fee_rate", opts.FeeRate.String()))

	return ex, nil
}

func (e *SimulateExchange) Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	return e.market.Price(ctx, pair)
}

func (e *SimulateExchange) OrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error) {
	return e.market.OrderBook(ctx, pair)
}

func (e *SimulateExchange) Klines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	return e.market.Klines(ctx, pair, interval, limit)
}

func (e *SimulateExchange) Halted(ctx context.Context, pairs []domain.Pair) ([]domain.Pair, error) {
	return e.market.Halted(ctx, pairs)
}

func (e *SimulateExchange) Balances(_ context.Context) ([]domain.Balance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	balances := make([]domain.Balance, 0, len(e.wallet))
	for asset, amount := range e.wallet {
		if amount.IsZero() {
			continue
		}
		balances = append(balances, domain.Balance{Asset: asset, Free: amount})
	}
	return balances, nil
}

func (e *SimulateExchange) AverageBuyPrice(_ context.Context, pair domain.Pair) (decimal.Decimal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.wallet[pair.From].IsPositive() {
		return decimal.Zero, nil
	}
	return e.avgPrices[pair.From], nil
}

// BuyMarket spends quoteAmount at the best ask; the fee is taken from the spend.
func (e *SimulateExchange) BuyMarket(ctx context.Context, pair domain.Pair, quoteAmount decimal.Decimal, clientOrderID string) error {
	if !quoteAmount.IsPositive() {
		return errors.Errorf("buy amount must be positive, got %s", quoteAmount.String())
	}

	price, err := e.fillPrice(ctx, pair, domain.SideBuy)
	if err != nil {
		return errors.Wrap(err, "failed to get price for simulated buy")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.wallet[pair.To].LessThan(quoteAmount) {
		return errors.Errorf("insufficient %s balance: have %s need %s",
			pair.To, e.wallet[pair.To].String(), quoteAmount.String())
	}

	fee := quoteAmount.Mul(e.feeRate)
	qty := quoteAmount.Sub(fee).Div(price)

	held := e.wallet[pair.From]
	newQty := held.Add(qty)
	if newQty.IsPositive() {
		cost := e.avgPrices[pair.From].Mul(held).Add(qty.Mul(price))
		e.avgPrices[pair.From] = cost.Div(newQty)
	}

	e.wallet[pair.To] = e.wallet[pair.To].Sub(quoteAmount)
	e.wallet[pair.From] = newQty
	e.orders[clientOrderID] = domain.OrderRecord{
		ClientOrderID:  clientOrderID,
		Status:         domain.ExchangeOrderFilled,
		FilledQuantity: qty,
		QuoteAmount:    quoteAmount,
		Fee:            fee,
	}
	e.persist()

	e.logger.Info("Simulated buy executed",
		zap.String("id", clientOrderID),
		zap.String("pair", pair.String()),
		zap.String("quantity", qty.String()),
		zap.String("price", price.String()),
		zap.String("fee", fee.String()))
	return nil
}

// SellMarket sells quantity at the best bid; the fee is taken from the proceeds.
func (e *SimulateExchange) SellMarket(ctx context.Context, pair domain.Pair, quantity decimal.Decimal, clientOrderID string) error {
	if !quantity.IsPositive() {
		return errors.Errorf("sell quantity must be positive, got %s", quantity.String())
	}

	price, err := e.fillPrice(ctx, pair, domain.SideSell)
	if err != nil {
		return errors.Wrap(err, "failed to get price for simulated sell")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	held := e.wallet[pair.From]
	if held.LessThan(quantity) {
		return errors.Errorf("insufficient %s balance: have %s need %s",
			pair.From, held.String(), quantity.String())
	}

	proceeds := quantity.Mul(price)
	fee := proceeds.Mul(e.feeRate)

	e.wallet[pair.From] = held.Sub(quantity)
	e.wallet[pair.To] = e.wallet[pair.To].Add(proceeds.Sub(fee))
	if !e.wallet[pair.From].IsPositive() {
		delete(e.avgPrices, pair.From)
	}
	e.orders[clientOrderID] = domain.OrderRecord{
		ClientOrderID:  clientOrderID,
		Status:         domain.ExchangeOrderFilled,
		FilledQuantity: quantity,
		QuoteAmount:    proceeds,
		Fee:            fee,
	}
	e.persist()

	e.logger.Info("Simulated sell executed",
		zap.String("id", clientOrderID),
		zap.String("pair", pair.String()),
		zap.String("quantity", quantity.String()),
		zap.String("price", price.String()),
		zap.String("fee", fee.String()))
	return nil
}

func (e *SimulateExchange) Order(_ context.Context, _ domain.Pair, clientOrderID string) (domain.OrderRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, ok := e.orders[clientOrderID]
	if !ok {
		return domain.OrderRecord{ClientOrderID: clientOrderID, Status: domain.ExchangeOrderNotFound}, nil
	}
	return o, nil
}

// fillPrice best ask for buys, best bid for sells, last price when the book side is empty.
func (e *SimulateExchange) fillPrice(ctx context.Context, pair domain.Pair, side domain.Side) (decimal.Decimal, error) {
	book, err := e.market.OrderBook(ctx, pair)
	if err == nil {
		price := book.BestBid
		if side == domain.SideBuy {
			price = book.BestAsk
		}
		if price.IsPositive() {
			return price, nil
		}
	}

	price, err := e.market.Price(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, errors.Errorf("no positive price for %s", pair.String())
	}
	return price, nil
}

func (e *SimulateExchange) persist() {
	if e.stateStore == nil {
		return
	}
	if err := e.stateStore.Save(simstate.NewState(e.wallet, e.avgPrices)); err != nil {
		e.logger.Warn("failed to persist simulate state", zap.Error(err))
	}
}

func (e *SimulateExchange) restoreState() error {
	if e.stateStore == nil {
		return nil
	}
	state, err := e.stateStore.Load()
	if err != nil || state == nil {
		return err
	}

	wallet, avgPrices, err := state.Decode()
	if err != nil {
		return err
	}
	e.wallet = wallet
	e.avgPrices = avgPrices
	return nil
}
