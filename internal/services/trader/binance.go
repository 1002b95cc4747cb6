package trader

import (
	"context"
	"sort"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/services/market/collector"
	"go.uber.org/zap"
)

const (
	binanceOrderNotFound = -2013
	binanceTrading       = "TRADING"

	quantityPrecision = 4
	quotePrecision    = 2
	depthLimit        = 5
)

// BinanceExchange spot exchange backed by the Binance REST API.
type BinanceExchange struct {
	client *binance.Client
	klines *collector.BinanceKlineProvider
	logger *zap.Logger
}

// NewBinanceExchange creates a Binance spot exchange adapter.
func NewBinanceExchange(client *binance.Client, logger *zap.Logger) *BinanceExchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BinanceExchange{
		client: client,
		klines: collector.NewBinanceKlineProvider(client),
		logger: logger,
	}
}

// Balances returns free balances of every asset with a non-zero amount.
func (e *BinanceExchange) Balances(ctx context.Context) ([]domain.Balance, error) {
	account, err := e.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get binance account balance")
	}

	balances := make([]domain.Balance, 0, len(account.Balances))
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s balance", b.Asset)
		}
		if free.IsZero() {
			continue
		}
		balances = append(balances, domain.Balance{Asset: b.Asset, Free: free})
	}

	return balances, nil
}

// Price returns the last traded price.
func (e *BinanceExchange) Price(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	prices, err := e.client.NewListPricesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to get binance price for %s", pair.String())
	}

	for _, p := range prices {
		if p.Symbol != pair.Symbol() {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "failed to parse %s price", pair.String())
		}
		return price, nil
	}

	return decimal.Zero, errors.Errorf("no price returned for %s", pair.String())
}

// OrderBook returns the top of the book.
func (e *BinanceExchange) OrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error) {
	depth, err := e.client.NewDepthService().Symbol(pair.Symbol()).Limit(depthLimit).Do(ctx)
	if err != nil {
		return domain.OrderBook{}, errors.Wrapf(err, "failed to get binance order book for %s", pair.String())
	}

	book := domain.OrderBook{Timestamp: time.Now().UTC()}
	if len(depth.Bids) > 0 {
		if book.BestBid, err = decimal.NewFromString(depth.Bids[0].Price); err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse best bid")
		}
		if book.BidSize, err = decimal.NewFromString(depth.Bids[0].Quantity); err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse bid size")
		}
	}
	if len(depth.Asks) > 0 {
		if book.BestAsk, err = decimal.NewFromString(depth.Asks[0].Price); err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse best ask")
		}
		if book.AskSize, err = decimal.NewFromString(depth.Asks[0].Quantity); err != nil {
			return domain.OrderBook{}, errors.Wrap(err, "failed to parse ask size")
		}
	}

	return book, nil
}

// Klines delegates to the Binance kline provider.
func (e *BinanceExchange) Klines(ctx context.Context, pair domain.Pair, interval string, limit int) ([]domain.MarketCandle, error) {
	return e.klines.Klines(ctx, pair, interval, limit)
}

// Halted returns the pairs whose symbol status is not TRADING or that are unlisted.
func (e *BinanceExchange) Halted(ctx context.Context, pairs []domain.Pair) ([]domain.Pair, error) {
	info, err := e.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get binance exchange info")
	}

	status := make(map[string]string, len(info.Symbols))
	for _, s := range info.Symbols {
		status[s.Symbol] = s.Status
	}

	var halted []domain.Pair
	for _, p := range pairs {
		if status[p.Symbol()] != binanceTrading {
			halted = append(halted, p)
		}
	}

	return halted, nil
}

// BuyMarket places a market buy spending quoteAmount.
func (e *BinanceExchange) BuyMarket(ctx context.Context, pair domain.Pair, quoteAmount decimal.Decimal, clientOrderID string) error {
	amount := quoteAmount.RoundFloor(quotePrecision)
	if !amount.IsPositive() {
		return errors.Errorf("buy amount must be positive, got %s", quoteAmount.String())
	}

	_, err := e.client.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(binance.SideTypeBuy).Type(binance.OrderTypeMarket).
		QuoteOrderQty(amount.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to place binance buy for %s", pair.String())
	}
	return nil
}

// SellMarket places a market sell of quantity base units.
func (e *BinanceExchange) SellMarket(ctx context.Context, pair domain.Pair, quantity decimal.Decimal, clientOrderID string) error {
	amount := quantity.RoundFloor(quantityPrecision)
	if !amount.IsPositive() {
		return errors.Errorf("sell quantity must be positive, got %s", quantity.String())
	}

	_, err := e.client.NewCreateOrderService().Symbol(pair.Symbol()).
		Side(binance.SideTypeSell).Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return errors.Wrapf(err, "failed to place binance sell for %s", pair.String())
	}
	return nil
}

// Order returns the order with its fill and the fee converted to quote currency.
func (e *BinanceExchange) Order(ctx context.Context, pair domain.Pair, clientOrderID string) (domain.OrderRecord, error) {
	order, err := e.client.NewGetOrderService().
		Symbol(pair.Symbol()).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == binanceOrderNotFound {
			return domain.OrderRecord{ClientOrderID: clientOrderID, Status: domain.ExchangeOrderNotFound}, nil
		}
		return domain.OrderRecord{}, errors.Wrap(err, "failed to query binance order status")
	}

	record := domain.OrderRecord{
		ClientOrderID: clientOrderID,
		Status:        mapOrderStatus(order.Status),
	}
	if record.FilledQuantity, err = decimal.NewFromString(order.ExecutedQuantity); err != nil {
		return domain.OrderRecord{}, errors.Wrap(err, "failed to parse executed quantity")
	}
	if record.QuoteAmount, err = decimal.NewFromString(order.CummulativeQuoteQuantity); err != nil {
		return domain.OrderRecord{}, errors.Wrap(err, "failed to parse cumulative quote quantity")
	}

	if record.Status.Terminal() && record.FilledQuantity.IsPositive() {
		fee, err := e.orderFee(ctx, pair, order.OrderID, record)
		if err != nil {
			// fee lookups never block resolution
			e.logger.Warn("failed to compute order fee",
				zap.String("pair", pair.String()),
				zap.String("client_order_id", clientOrderID),
				zap.Error(err))
		}
		record.Fee = fee
	}

	return record, nil
}

func (e *BinanceExchange) orderFee(ctx context.Context, pair domain.Pair, orderID int64, record domain.OrderRecord) (decimal.Decimal, error) {
	trades, err := e.client.NewListTradesService().Symbol(pair.Symbol()).OrderId(orderID).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to list order trades")
	}

	fills := make([]fill, 0, len(trades))
	for _, t := range trades {
		commission, err := decimal.NewFromString(t.Commission)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "failed to parse commission")
		}
		fills = append(fills, fill{commission: commission, asset: t.CommissionAsset})
	}

	return feeInQuote(ctx, pair, record, fills, e.Price)
}

type fill struct {
	commission decimal.Decimal
	asset      string
}

// feeInQuote converts commissions to quote currency. Base-asset commissions
// are valued at the average fill price, other assets at their market price.
func feeInQuote(
	ctx context.Context,
	pair domain.Pair,
	record domain.OrderRecord,
	fills []fill,
	price func(context.Context, domain.Pair) (decimal.Decimal, error),
) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, f := range fills {
		switch f.asset {
		case pair.To:
			total = total.Add(f.commission)
		case pair.From:
			if record.FilledQuantity.IsPositive() {
				avg := record.QuoteAmount.Div(record.FilledQuantity)
				total = total.Add(f.commission.Mul(avg))
			}
		default:
			p, err := price(ctx, domain.Pair{From: f.asset, To: pair.To})
			if err != nil {
				return total, errors.Wrapf(err, "failed to price commission asset %s", f.asset)
			}
			total = total.Add(f.commission.Mul(p))
		}
	}
	return total, nil
}

// AverageBuyPrice reconstructs the average cost of the current holding from
// the account trade history.
func (e *BinanceExchange) AverageBuyPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	trades, err := e.client.NewListTradesService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "failed to list binance trades for %s", pair.String())
	}

	history := make([]tradeFill, 0, len(trades))
	for _, t := range trades {
		qty, err := decimal.NewFromString(t.Quantity)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "failed to parse trade quantity")
		}
		price, err := decimal.NewFromString(t.Price)
		if err != nil {
			return decimal.Zero, errors.Wrap(err, "failed to parse trade price")
		}
		history = append(history, tradeFill{time: t.Time, buy: t.IsBuyer, qty: qty, price: price})
	}

	return averageCost(history), nil
}

type tradeFill struct {
	time  int64
	buy   bool
	qty   decimal.Decimal
	price decimal.Decimal
}

// averageCost replays fills in time order; sells reduce the holding at the
// running average cost and a flat position resets it.
func averageCost(trades []tradeFill) decimal.Decimal {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].time < trades[j].time
	})

	totalQty := decimal.Zero
	totalCost := decimal.Zero

	for _, trade := range trades {
		if trade.buy {
			totalCost = totalCost.Add(trade.price.Mul(trade.qty))
			totalQty = totalQty.Add(trade.qty)
			continue
		}

		if !totalQty.IsPositive() {
			continue
		}

		reduced := trade.qty
		if reduced.GreaterThan(totalQty) {
			reduced = totalQty
		}
		avg := totalCost.Div(totalQty)
		totalCost = totalCost.Sub(avg.Mul(reduced))
		totalQty = totalQty.Sub(reduced)

		if !totalQty.IsPositive() {
			totalQty = decimal.Zero
			totalCost = decimal.Zero
		}
	}

	if !totalQty.IsPositive() || !totalCost.IsPositive() {
		return decimal.Zero
	}

	return totalCost.Div(totalQty)
}

func mapOrderStatus(status binance.OrderStatusType) domain.ExchangeOrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return domain.ExchangeOrderFilled
	case binance.OrderStatusTypePartiallyFilled:
		return domain.ExchangeOrderPartiallyFilled
	case binance.OrderStatusTypeCanceled:
		return domain.ExchangeOrderCancelled
	case binance.OrderStatusTypeRejected:
		return domain.ExchangeOrderRejected
	case binance.OrderStatusTypeExpired:
		return domain.ExchangeOrderExpired
	default:
		return domain.ExchangeOrderNew
	}
}
