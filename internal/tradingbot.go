package internal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/autotrade/config"
	"github.com/vadiminshakov/autotrade/internal/domain"
	"github.com/vadiminshakov/autotrade/internal/notify"
	"github.com/vadiminshakov/autotrade/internal/services/decision"
	"github.com/vadiminshakov/autotrade/internal/services/promptbuilder"
	"github.com/vadiminshakov/autotrade/internal/services/reconciler"
	"github.com/vadiminshakov/autotrade/internal/storage/ledger"
	"github.com/vadiminshakov/autotrade/internal/tracing"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errBotClosed = errors.New("trading bot is shut down")

// StatusReader account state reads.
type StatusReader interface {
	Snapshot(ctx context.Context, instruments []domain.Instrument) (domain.StatusSnapshot, error)
	Instrument(ctx context.Context, inst domain.Instrument) (domain.InstrumentStatus, error)
}

// MarketCollector per-instrument candles with indicators.
type MarketCollector interface {
	Collect(ctx context.Context, inst domain.Instrument) (daily, hourly *domain.Timeframe, err error)
}

// NewsDigest optional news headlines; nil when unavailable.
type NewsDigest interface {
	Digest(ctx context.Context) []domain.NewsItem
}

// FearGreedIndex optional sentiment readings; nil when unavailable.
type FearGreedIndex interface {
	Latest(ctx context.Context) []domain.FearGreedReading
}

// DecisionRequester asks the reasoning service for a batch of decisions.
type DecisionRequester interface {
	Request(ctx context.Context, instruments []domain.Instrument, pc promptbuilder.Context) (decision.Batch, error)
}

// OrderExecutor places one order and resolves its outcome.
type OrderExecutor interface {
	Execute(ctx context.Context, instr domain.OrderInstruction) domain.ExecutionResult
}

// HaltChecker reports pairs the exchange stopped trading.
type HaltChecker interface {
	Halted(ctx context.Context, pairs []domain.Pair) ([]domain.Pair, error)
}

// SettlementStore cycle summary audit log.
type SettlementStore interface {
	Save(summary domain.CycleSummary) error
}

// CyclePublisher receives every finished cycle summary.
type CyclePublisher interface {
	Publish(summary domain.CycleSummary)
}

// Deps collaborators of the trading bot. News, FearGreed, Halts,
// Settlements and Events are optional.
type Deps struct {
	Status      StatusReader
	Market      MarketCollector
	News        NewsDigest
	FearGreed   FearGreedIndex
	Decisions   DecisionRequester
	Executor    OrderExecutor
	Halts       HaltChecker
	Ledger      ledger.Store
	Settlements SettlementStore
	Events      CyclePublisher
	Notifier    notify.Notifier
	Policy      *config.PolicyStore
}

// Options cycle tuning.
type Options struct {
	FeeRate     decimal.Decimal
	HistorySize int
}

// TradingBot runs trading cycles: gather, decide, execute, settle.
// At most one cycle runs at a time; overlapping triggers are dropped.
type TradingBot struct {
	deps   Deps
	opts   Options
	logger *zap.Logger
	nowFn  func() time.Time
	newID  func() string
	state  atomic.Int32

	mu      sync.Mutex
	running bool
	closed  bool
	cycles  sync.WaitGroup
}

// NewTradingBot creates a bot.
func NewTradingBot(deps Deps, opts Options, logger *zap.Logger) (*TradingBot, error) {
	switch {
	case deps.Status == nil:
		return nil, errors.New("status reader is required")
	case deps.Market == nil:
		return nil, errors.New("market collector is required")
	case deps.Decisions == nil:
		return nil, errors.New("decision requester is required")
	case deps.Executor == nil:
		return nil, errors.New("order executor is required")
	case deps.Ledger == nil:
		return nil, errors.New("ledger store is required")
	case deps.Policy == nil:
		return nil, errors.New("policy store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(logger)
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = config.DefaultHistorySize
	}

	return &TradingBot{
		deps:   deps,
		opts:   opts,
		logger: logger,
		nowFn:  time.Now,
		newID:  uuid.NewString,
	}, nil
}

// State returns the current cycle phase.
func (b *TradingBot) State() domain.CycleState {
	return domain.CycleState(b.state.Load())
}

func (b *TradingBot) setState(s domain.CycleState) {
	b.state.Store(int32(s))
}

// Trigger runs a cycle and logs its result; it is the scheduler callback.
// A started cycle is not cancelled when ctx is.
func (b *TradingBot) Trigger(ctx context.Context) {
	if _, err := b.RunCycle(context.WithoutCancel(ctx)); err != nil {
		switch {
		case errors.Is(err, domain.ErrCycleInProgress):
			b.logger.Warn("previous cycle still running, trigger skipped")
		case errors.Is(err, errBotClosed):
			b.logger.Info("bot is shutting down, trigger skipped")
		default:
			b.logger.Error("trading cycle failed", zap.Error(err))
		}
	}
}

// Shutdown refuses new cycles and waits for the running one to finish.
func (b *TradingBot) Shutdown() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cycles.Wait()
}

func (b *TradingBot) acquire() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errBotClosed
	}
	if b.running {
		return domain.ErrCycleInProgress
	}
	b.running = true
	b.cycles.Add(1)
	return nil
}

func (b *TradingBot) release() {
	b.setState(domain.CycleIdle)
	b.mu.Lock()
	b.running = false
	b.mu.Unlock()
	b.cycles.Done()
}

// gathered inputs of one decision request.
type gathered struct {
	before     domain.StatusSnapshot
	markets    []domain.MarketSnapshot
	lastPrices map[string]decimal.Decimal
	pc         promptbuilder.Context
}

// RunCycle runs one full cycle. It returns domain.ErrCycleInProgress when
// another cycle has not finished yet.
func (b *TradingBot) RunCycle(ctx context.Context) (domain.CycleSummary, error) {
	if err := b.acquire(); err != nil {
		return domain.CycleSummary{}, err
	}
	defer b.release()

	policy := b.deps.Policy.Current()
	summary := domain.CycleSummary{CycleID: b.newID(), StartedAt: b.nowFn().UTC()}
	logger := b.logger.With(zap.String("cycle_id", summary.CycleID))

	ctx, span := tracing.StartSpan(ctx, "cycle", "cycle_id", summary.CycleID)
	logger = logger.With(tracing.Fields(ctx)...)

	tradable := policy.Tradable()
	logger.Info("cycle started",
		zap.Strings("instruments", ids(tradable)),
		zap.Strings("excluded", policy.ExcludedList()))

	if len(tradable) == 0 {
		err := errors.New("no tradable instruments configured")
		tracing.End(span, err)
		return b.abort(ctx, logger, summary, domain.CycleGathering, err)
	}

	b.setState(domain.CycleGathering)
	in, err := b.gather(ctx, policy, tradable)
	if err != nil {
		tracing.End(span, err)
		return b.abort(ctx, logger, summary, domain.CycleGathering, err)
	}

	b.setState(domain.CycleDeciding)
	dctx, dspan := tracing.StartSpan(ctx, "decide")
	batch, err := b.deps.Decisions.Request(dctx, tradable, in.pc)
	tracing.End(dspan, err)
	if err != nil {
		tracing.End(span, err)
		return b.abort(ctx, logger, summary, domain.CycleDeciding, err)
	}
	logger.Info("decisions received", zap.String("model", batch.Model), zap.Int("attempts", batch.Attempts))

	b.setState(domain.CycleExecuting)
	limits := reconciler.Limits{
		Investable:  reconciler.Investable(in.before, policy.InvestFraction(), policy.Excluded()),
		MinNotional: policy.MinNotional(),
		FeeRate:     b.opts.FeeRate,
	}
	logger.Info("investable budget", zap.String("amount", limits.Investable.String()))

	fees := decimal.Zero
	for i, inst := range tradable {
		res, fee := b.executeOne(ctx, logger, summary.CycleID, batch, inst, in.markets[i].Price(), limits)
		summary.Results = append(summary.Results, res)
		fees = fees.Add(fee)
	}

	b.setState(domain.CycleSettling)
	err = b.settle(ctx, logger, policy, &summary, in, fees)
	tracing.End(span, err)
	return summary, err
}

func (b *TradingBot) gather(ctx context.Context, policy *config.Policy, tradable []domain.Instrument) (gathered, error) {
	ctx, span := tracing.StartSpan(ctx, "gather")

	var (
		in      gathered
		history map[string][]domain.LedgerEntry
		candles = make([][2]*domain.Timeframe, len(tradable))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap, err := b.deps.Status.Snapshot(gctx, policy.Tradable())
		if err != nil {
			return errors.Wrap(err, "status snapshot")
		}
		in.before = snap
		return nil
	})
	for i, inst := range tradable {
		i, inst := i, inst
		g.Go(func() error {
			daily, hourly, err := b.deps.Market.Collect(gctx, inst)
			if err != nil {
				return errors.Wrapf(err, "market data for %s", inst.ID)
			}
			candles[i] = [2]*domain.Timeframe{daily, hourly}
			return nil
		})
	}
	g.Go(func() error {
		h, err := ledger.RecentByInstrument(b.deps.Ledger, ids(tradable), b.opts.HistorySize)
		if err != nil {
			return err
		}
		history = h
		return nil
	})
	if b.deps.News != nil {
		g.Go(func() error {
			in.pc.News = b.deps.News.Digest(gctx)
			return nil
		})
	}
	if b.deps.FearGreed != nil {
		g.Go(func() error {
			in.pc.FearGreed = b.deps.FearGreed.Latest(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracing.End(span, err)
		return gathered{}, err
	}

	in.markets = make([]domain.MarketSnapshot, len(tradable))
	in.lastPrices = make(map[string]decimal.Decimal, len(tradable))
	for i, inst := range tradable {
		st, _ := in.before.Get(inst.ID)
		in.markets[i] = domain.MarketSnapshot{
			Instrument: inst,
			Timestamp:  in.before.Taken,
			Book:       st.Book,
			Daily:      candles[i][0],
			Hourly:     candles[i][1],
		}
		if price, ok := in.markets[i].LatestClose(); ok {
			in.lastPrices[inst.ID] = price
		}
	}
	// valuation falls back to the same close the decision price does
	in.before = in.before.WithLastPrices(in.lastPrices)
	in.pc.Markets = in.markets
	in.pc.History = history
	in.pc.Status = in.before

	tracing.End(span, nil)
	return in, nil
}

// executeOne reconciles and executes the decision of one instrument and
// records it in the ledger. Failures are reported and never stop the cycle.
func (b *TradingBot) executeOne(
	ctx context.Context,
	logger *zap.Logger,
	cycleID string,
	batch decision.Batch,
	inst domain.Instrument,
	price decimal.Decimal,
	limits reconciler.Limits,
) (domain.InstrumentResult, decimal.Decimal) {
	ctx, span := tracing.StartSpan(ctx, "execute/"+inst.ID)
	logger = logger.With(zap.String("instrument", inst.ID))
	result := domain.InstrumentResult{Instrument: inst.ID}

	d, ok := batch.Get(inst.ID)
	if !ok {
		err := errors.Errorf("no decision for %s", inst.ID)
		result.Error = err.Error()
		logger.Error("decision missing", zap.Error(err))
		b.deps.Notifier.Send(ctx, fmt.Sprintf("No decision returned for %s, skipped", inst.ID))
		tracing.End(span, err)
		return result, decimal.Zero
	}
	result.Action = d.Action

	// refreshed so earlier orders of this cycle are reflected in the cash
	st, err := b.deps.Status.Instrument(ctx, inst)
	if err != nil {
		result.Error = err.Error()
		logger.Error("failed to refresh position", zap.Error(err))
		b.deps.Notifier.Send(ctx, fmt.Sprintf("Skipped %s %s: failed to read position: %v", d.Action, inst.ID, err))
		tracing.End(span, err)
		return result, decimal.Zero
	}
	pos := st.Position

	rec := reconciler.Reconcile(d, pos, price, limits)

	var (
		outcome *domain.OrderOutcome
		fee     = decimal.Zero
	)
	if rec.IsNoOp() {
		result.NoOp = rec.NoOp
		logger.Info("no order",
			zap.String("action", string(d.Action)),
			zap.String("reason", string(rec.NoOp)),
			zap.String("intensity", d.Intensity.String()))
	} else {
		res := b.deps.Executor.Execute(ctx, *rec.Instruction)
		outcome = &res.Outcome
		result.Outcome = outcome
		fee = res.SettledFee()
		if res.Err != nil {
			result.Error = res.Err.Error()
		}
	}

	entry := domain.NewLedgerEntry(b.nowFn(), cycleID, batch.Model, rec, pos, price, outcome)
	if _, err := b.deps.Ledger.Append(entry); err != nil {
		logger.Error("failed to append ledger entry", zap.Error(err))
		b.deps.Notifier.Send(ctx, fmt.Sprintf("Failed to record %s decision for %s in the ledger: %v", d.Action, inst.ID, err))
		if result.Error == "" {
			result.Error = err.Error()
		}
	}

	tracing.End(span, nil)
	return result, fee
}

func (b *TradingBot) settle(
	ctx context.Context,
	logger *zap.Logger,
	policy *config.Policy,
	summary *domain.CycleSummary,
	in gathered,
	fees decimal.Decimal,
) error {
	ctx, span := tracing.StartSpan(ctx, "settle")

	after, err := b.deps.Status.Snapshot(ctx, policy.Tradable())
	if err != nil {
		err = errors.Wrap(err, "settlement snapshot")
		logger.Error("settlement failed", zap.Error(err))
		b.deps.Notifier.Send(ctx, fmt.Sprintf("Cycle %s executed but settlement failed: %v", summary.CycleID, err))
		summary.FinishedAt = b.nowFn().UTC()
		b.saveSummary(logger, *summary)
		tracing.End(span, err)
		return err
	}

	after = after.WithLastPrices(in.lastPrices)
	excluded := policy.Excluded()
	summary.Settle(in.before.Valuation(excluded), after.Valuation(excluded), fees)
	summary.FinishedAt = b.nowFn().UTC()

	logger.Info("cycle settled",
		zap.String("before", summary.Before.String()),
		zap.String("after", summary.After.String()),
		zap.String("fees", summary.Fees.String()),
		zap.String("profit", summary.Profit.String()))
	b.deps.Notifier.Send(ctx, settlementText(*summary, after, excluded))

	b.checkHalted(ctx, logger, policy)
	b.saveSummary(logger, *summary)

	tracing.End(span, nil)
	return nil
}

// checkHalted excludes instruments the exchange no longer trades; the next
// cycle picks up the new policy.
func (b *TradingBot) checkHalted(ctx context.Context, logger *zap.Logger, policy *config.Policy) {
	if b.deps.Halts == nil {
		return
	}
	tradable := policy.Tradable()
	pairs := make([]domain.Pair, 0, len(tradable))
	for _, inst := range tradable {
		pairs = append(pairs, inst.Pair)
	}

	halted, err := b.deps.Halts.Halted(ctx, pairs)
	if err != nil {
		logger.Warn("failed to check trading status", zap.Error(err))
		return
	}
	if len(halted) == 0 {
		return
	}

	haltedIDs := make([]string, 0, len(halted))
	for _, p := range halted {
		haltedIDs = append(haltedIDs, domain.NewInstrument(p).ID)
	}
	added := b.deps.Policy.Exclude(haltedIDs...)
	if len(added) == 0 {
		return
	}
	logger.Warn("instruments excluded, exchange stopped trading them", zap.Strings("instruments", added))
	b.deps.Notifier.Send(ctx, fmt.Sprintf("Exchange stopped trading %s, added to the exclusion list", strings.Join(added, ", ")))
}

// abort ends a cycle that failed before any order was placed.
func (b *TradingBot) abort(
	ctx context.Context,
	logger *zap.Logger,
	summary domain.CycleSummary,
	phase domain.CycleState,
	err error,
) (domain.CycleSummary, error) {
	summary.Aborted = true
	summary.AbortReason = err.Error()
	summary.FinishedAt = b.nowFn().UTC()

	logger.Error("cycle aborted, no orders placed", zap.String("phase", phase.String()), zap.Error(err))
	b.deps.Notifier.Send(ctx, fmt.Sprintf("Cycle %s aborted during %s, no orders placed: %v", summary.CycleID, phase, err))
	b.saveSummary(logger, summary)

	return summary, errors.Wrapf(err, "cycle aborted during %s", phase)
}

func (b *TradingBot) saveSummary(logger *zap.Logger, summary domain.CycleSummary) {
	if b.deps.Events != nil {
		b.deps.Events.Publish(summary)
	}
	if b.deps.Settlements == nil {
		return
	}
	if err := b.deps.Settlements.Save(summary); err != nil {
		logger.Error("failed to save cycle summary", zap.Error(err))
	}
}

func settlementText(s domain.CycleSummary, after domain.StatusSnapshot, excluded map[string]bool) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Cycle %s settled: value %s -> %s, fees %s, profit %s\n",
		s.CycleID, s.Before.StringFixed(2), s.After.StringFixed(2), s.Fees.StringFixed(2), s.Profit.StringFixed(2))

	for _, r := range s.Results {
		switch {
		case r.Outcome != nil:
			fmt.Fprintf(&sb, "%s: %s %s, filled %s, fee %s", r.Instrument, r.Action, r.Outcome.State,
				r.Outcome.FilledQuantity.String(), r.Outcome.Fee.StringFixed(2))
		case r.NoOp != "":
			fmt.Fprintf(&sb, "%s: %s, no order (%s)", r.Instrument, r.Action, r.NoOp)
		default:
			fmt.Fprintf(&sb, "%s: %s skipped", r.Instrument, r.Action)
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, ", error: %s", r.Error)
		}
		sb.WriteString("\n")
	}

	holdings := make([]string, 0, len(after.Instruments))
	for _, st := range after.Instruments {
		pos := st.Position
		if excluded[pos.Instrument.ID] || !pos.Quantity.IsPositive() {
			continue
		}
		holdings = append(holdings, fmt.Sprintf("%s value %s avg %s pnl %s",
			pos.Instrument.ID,
			pos.Value(st.Price()).StringFixed(2),
			pos.AvgPrice.StringFixed(2),
			pos.UnrealizedPnL(st.Price()).StringFixed(2)))
	}
	fmt.Fprintf(&sb, "Cash %s", after.Cash.StringFixed(2))
	if len(holdings) > 0 {
		sb.WriteString(" | ")
		sb.WriteString(strings.Join(holdings, " | "))
	}
	return sb.String()
}

func ids(instruments []domain.Instrument) []string {
	out := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		out = append(out, inst.ID)
	}
	return out
}
