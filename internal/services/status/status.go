// Package status reads the per-instrument account state used to value the
// portfolio and size orders.
package status

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Account exchange reads needed for a status snapshot.
type Account interface {
	Balances(ctx context.Context) ([]domain.Balance, error)
	OrderBook(ctx context.Context, pair domain.Pair) (domain.OrderBook, error)
	AverageBuyPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// Reader takes status snapshots.
type Reader struct {
	account Account
	logger  *zap.Logger
	nowFn   func() time.Time
}

// NewReader creates a status reader over account.
func NewReader(account Account, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{account: account, logger: logger, nowFn: time.Now}
}

// Snapshot reads every instrument independently and concurrently. The result
// keeps the order of instruments.
func (r *Reader) Snapshot(ctx context.Context, instruments []domain.Instrument) (domain.StatusSnapshot, error) {
	if len(instruments) == 0 {
		return domain.StatusSnapshot{Taken: r.nowFn().UTC()}, nil
	}

	statuses := make([]domain.InstrumentStatus, len(instruments))
	var cash decimal.Decimal

	g, gctx := errgroup.WithContext(ctx)
	for i, inst := range instruments {
		i, inst := i, inst
		g.Go(func() error {
			st, err := r.Instrument(gctx, inst)
			if err != nil {
				return err
			}
			statuses[i] = st
			return nil
		})
	}
	g.Go(func() error {
		balances, err := r.account.Balances(gctx)
		if err != nil {
			return errors.Wrap(err, "failed to read cash balance")
		}
		cash = match(balances, instruments[0].Quote())
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.StatusSnapshot{}, err
	}

	return domain.StatusSnapshot{
		Taken:       r.nowFn().UTC(),
		Cash:        cash,
		Instruments: statuses,
	}, nil
}

// Instrument reads the order book and the balances of a single instrument.
// Unmatched balances default to zero quantity and zero average price.
func (r *Reader) Instrument(ctx context.Context, inst domain.Instrument) (domain.InstrumentStatus, error) {
	book, err := r.account.OrderBook(ctx, inst.Pair)
	if err != nil {
		return domain.InstrumentStatus{}, errors.Wrapf(err, "failed to read order book of %s", inst.ID)
	}

	balances, err := r.account.Balances(ctx)
	if err != nil {
		return domain.InstrumentStatus{}, errors.Wrapf(err, "failed to read balances for %s", inst.ID)
	}

	pos := domain.AccountPosition{
		Instrument: inst,
		Quantity:   match(balances, inst.ID),
		Cash:       match(balances, inst.Quote()),
		Timestamp:  r.nowFn().UTC(),
	}

	if pos.Quantity.IsPositive() {
		avg, err := r.account.AverageBuyPrice(ctx, inst.Pair)
		if err != nil {
			r.logger.Warn("failed to read average buy price",
				zap.String("instrument", inst.ID),
				zap.Error(err))
		} else {
			pos.AvgPrice = avg
		}
	}

	return domain.InstrumentStatus{Position: pos, Book: book}, nil
}

func match(balances []domain.Balance, asset string) decimal.Decimal {
	for _, b := range balances {
		if b.Asset == asset {
			return b.Free
		}
	}
	return decimal.Zero
}
