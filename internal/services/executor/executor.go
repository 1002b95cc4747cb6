// Package executor submits market orders and polls them to a terminal state.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/pkg/retrier"
	"go.uber.org/zap"
)

const (
	DefaultPollAttempts = 10
	DefaultPollInterval = 2 * time.Second
)

var errNotTerminal = errors.New("order not terminal yet")

// Orders exchange order capability.
type Orders interface {
	BuyMarket(ctx context.Context, pair domain.Pair, quoteAmount decimal.Decimal, clientOrderID string) error
	SellMarket(ctx context.Context, pair domain.Pair, quantity decimal.Decimal, clientOrderID string) error
	Order(ctx context.Context, pair domain.Pair, clientOrderID string) (domain.OrderRecord, error)
}

// Notifier operator notification channel.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Executor places one order at a time.
type Executor struct {
	orders       Orders
	notifier     Notifier
	pollAttempts int
	pollInterval time.Duration
	newID        func() string
	logger       *zap.Logger
}

// NewExecutor creates an executor polling up to pollAttempts times, pollInterval apart.
func NewExecutor(orders Orders, notifier Notifier, pollAttempts int, pollInterval time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pollAttempts <= 0 {
		pollAttempts = DefaultPollAttempts
	}
	if pollInterval < 0 {
		pollInterval = DefaultPollInterval
	}
	return &Executor{
		orders:       orders,
		notifier:     notifier,
		pollAttempts: pollAttempts,
		pollInterval: pollInterval,
		newID:        uuid.NewString,
		logger:       logger,
	}
}

// Execute submits the instruction and waits for its terminal state.
// Submission failures yield Failed, an exhausted poll yields Unknown.
func (e *Executor) Execute(ctx context.Context, instr domain.OrderInstruction) domain.ExecutionResult {
	outcome := domain.OrderOutcome{
		Instrument:    instr.Instrument.ID,
		Side:          instr.Side,
		ClientOrderID: e.newID(),
	}
	logger := e.logger.With(
		zap.String("instrument", instr.Instrument.ID),
		zap.String("side", string(instr.Side)),
		zap.String("client_order_id", outcome.ClientOrderID))

	if err := e.submit(ctx, instr, outcome.ClientOrderID); err != nil {
		err = errors.Wrapf(domain.ErrOrderSubmission, "%s %s: %v", instr.Side, instr.Instrument.ID, err)
		logger.Error("order submission failed", zap.Error(err))
		e.notifier.Send(ctx, fmt.Sprintf("Order submission failed for %s (%s %s): %v",
			instr.Instrument.ID, instr.Side, describe(instr), err))
		return domain.Failed(outcome, err)
	}

	logger.Info("order submitted", zap.String("size", describe(instr)))

	record, err := e.poll(ctx, instr.Instrument.Pair, outcome.ClientOrderID, logger)
	if err != nil {
		logger.Warn("order did not reach a terminal state", zap.Error(err))
		e.notifier.Send(ctx, fmt.Sprintf("Order for %s (%s %s) unresolved after %d checks, treated as unknown: %v",
			instr.Instrument.ID, instr.Side, describe(instr), e.pollAttempts, err))
		return domain.Unknown(outcome)
	}

	outcome.FilledQuantity = record.FilledQuantity
	outcome.QuoteAmount = record.QuoteAmount
	outcome.Fee = record.Fee

	switch record.Status {
	case domain.ExchangeOrderRejected:
		err := errors.Wrapf(domain.ErrOrderSubmission, "%s %s rejected by exchange", instr.Side, instr.Instrument.ID)
		logger.Error("order rejected", zap.Error(err))
		e.notifier.Send(ctx, fmt.Sprintf("Order for %s (%s %s) rejected by the exchange",
			instr.Instrument.ID, instr.Side, describe(instr)))
		return domain.Failed(outcome, err)
	case domain.ExchangeOrderFilled:
		outcome.State = domain.OrderStateDone
	default:
		// cancelled or expired market orders may still carry a partial fill
		outcome.State = domain.OrderStateCancelled
		if record.FilledQuantity.IsPositive() {
			outcome.State = domain.OrderStateDone
		}
	}

	logger.Info("order resolved",
		zap.String("state", string(outcome.State)),
		zap.String("filled", outcome.FilledQuantity.String()),
		zap.String("quote", outcome.QuoteAmount.String()),
		zap.String("fee", outcome.Fee.String()))

	return domain.Done(outcome)
}

func (e *Executor) submit(ctx context.Context, instr domain.OrderInstruction, clientOrderID string) error {
	switch instr.Side {
	case domain.SideBuy:
		return e.orders.BuyMarket(ctx, instr.Instrument.Pair, instr.Notional, clientOrderID)
	case domain.SideSell:
		return e.orders.SellMarket(ctx, instr.Instrument.Pair, instr.Quantity, clientOrderID)
	default:
		return errors.Errorf("unknown order side %q", instr.Side)
	}
}

func (e *Executor) poll(ctx context.Context, pair domain.Pair, clientOrderID string, logger *zap.Logger) (domain.OrderRecord, error) {
	rt := retrier.Fixed(e.pollAttempts, e.pollInterval)
	retrier.WithOnRetry(func(attempt int, err error) {
		logger.Debug("order pending", zap.Int("check", attempt), zap.Error(err))
	})(rt)

	record, err := retrier.DoWithData(rt, ctx, func(ctx context.Context) (domain.OrderRecord, error) {
		record, err := e.orders.Order(ctx, pair, clientOrderID)
		if err != nil {
			return domain.OrderRecord{}, errors.Wrap(domain.ErrTransient, err.Error())
		}
		if !record.Status.Terminal() {
			return domain.OrderRecord{}, errors.Wrapf(errNotTerminal, "status %s", record.Status)
		}
		return record, nil
	})
	if err != nil {
		return domain.OrderRecord{}, errors.Wrapf(domain.ErrOrderUnresolved, "%v", err)
	}
	return record, nil
}

func describe(instr domain.OrderInstruction) string {
	if instr.Side == domain.SideBuy {
		return fmt.Sprintf("notional %s", instr.Notional.StringFixed(2))
	}
	return fmt.Sprintf("quantity %s", instr.Quantity.String())
}
