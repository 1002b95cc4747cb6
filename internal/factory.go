package internal

import (
	"github.com/pkg/errors"
	"github.com/vadiminshakov/autotrade/config"
	"github.com/vadiminshakov/autotrade/internal/clients"
	"github.com/vadiminshakov/autotrade/internal/events"
	"github.com/vadiminshakov/autotrade/internal/notify"
	"github.com/vadiminshakov/autotrade/internal/scheduler"
	"github.com/vadiminshakov/autotrade/internal/services/decision"
	"github.com/vadiminshakov/autotrade/internal/services/executor"
	"github.com/vadiminshakov/autotrade/internal/services/market/collector"
	"github.com/vadiminshakov/autotrade/internal/services/promptbuilder"
	"github.com/vadiminshakov/autotrade/internal/services/sentiment"
	"github.com/vadiminshakov/autotrade/internal/services/status"
	"github.com/vadiminshakov/autotrade/internal/services/trader"
	"github.com/vadiminshakov/autotrade/internal/storage/ledger"
	"github.com/vadiminshakov/autotrade/internal/storage/settlements"
	"github.com/vadiminshakov/autotrade/internal/storage/simstate"
	"github.com/vadiminshakov/autotrade/internal/web"
	"go.uber.org/zap"
)

// App a fully wired bot and the resources it owns. Dashboard is nil
// unless an address is configured.
type App struct {
	Bot       *TradingBot
	Policy    *config.PolicyStore
	Exchange  trader.Exchange
	Dashboard *web.Server

	closers []func() error
}

// Close releases stores in reverse order of opening.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewApp wires every collaborator described by cfg.
func NewApp(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{Policy: config.NewPolicyStore(cfg.Policy())}

	exchange, err := newExchange(cfg, logger)
	if err != nil {
		return nil, err
	}
	app.Exchange = exchange

	instructions, err := promptbuilder.LoadInstructions(cfg.InstructionsFile)
	if err != nil {
		return nil, err
	}

	store, err := ledger.Open(cfg.LedgerDriver, cfg.LedgerPath)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger")
	}
	app.closers = append(app.closers, store.Close)

	summaries, err := settlements.NewWALStore(cfg.SettlementsDir)
	if err != nil {
		_ = app.Close()
		return nil, errors.Wrap(err, "open settlements")
	}
	app.closers = append(app.closers, summaries.Close)

	notifier := notify.New(cfg.Secrets.SlackToken, cfg.SlackChannel, cfg.NotifyInterval, logger.Named("notify"))
	reasoner := clients.NewOpenAICompatibleClient(cfg.LLMURL, cfg.Secrets.LLMAPIKey, cfg.LLMModel)
	cycles := events.NewCycleBroadcaster(0)

	deps := Deps{
		Status: status.NewReader(exchange, logger.Named("status")),
		Market: collector.NewMarketDataCollector(exchange, collector.Options{
			DailyBars:  cfg.DailyBars,
			HourlyBars: cfg.HourlyBars,
			Warmup:     collector.DefaultWarmup,
		}),
		FearGreed: sentiment.NewFearGreedSource(cfg.FearGreedURL, cfg.FearGreedLimit, logger.Named("feargreed")),
		Decisions: decision.NewRequester(
			reasoner,
			promptbuilder.NewPromptBuilder(instructions, logger.Named("prompt")),
			cfg.ReplyAttempts,
			cfg.ReplyDelay,
			logger.Named("decision")),
		Executor:    executor.NewExecutor(exchange, notifier, cfg.PollAttempts, cfg.PollInterval, logger.Named("executor")),
		Halts:       exchange,
		Ledger:      store,
		Settlements: summaries,
		Events:      cycles,
		Notifier:    notifier,
		Policy:      app.Policy,
	}
	if cfg.Secrets.SerpAPIKey != "" {
		deps.News = sentiment.NewNewsSource(cfg.NewsURL, cfg.Secrets.SerpAPIKey, cfg.NewsQuery, logger.Named("news"))
	} else {
		logger.Info("SERPAPI_API_KEY is not set, news digest disabled")
	}

	bot, err := NewTradingBot(deps, Options{FeeRate: cfg.FeeRate, HistorySize: cfg.HistorySize}, logger.Named("bot"))
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.Bot = bot

	if cfg.DashboardAddr != "" {
		app.Dashboard = web.NewServer(cfg.DashboardAddr, store, summaries, cycles, app.Policy, logger.Named("web"))
	}
	return app, nil
}

// newExchange is the single dispatch point between live and paper trading.
func newExchange(cfg config.Config, logger *zap.Logger) (trader.Exchange, error) {
	switch cfg.Exchange {
	case config.ExchangeBinance:
		if cfg.Secrets.BinanceAPIKey == "" || cfg.Secrets.BinanceAPISecret == "" {
			return nil, errors.New("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set")
		}
		client := clients.NewBinanceClient(cfg.Secrets.BinanceAPIKey, cfg.Secrets.BinanceAPISecret)
		return trader.NewBinanceExchange(client, logger.Named("binance")), nil
	case config.ExchangeSimulate:
		market := trader.NewBinanceExchange(clients.NewPublicBinanceClient(), logger.Named("binance"))

		var (
			state *simstate.Store
			err   error
		)
		if cfg.SimulateStateDir != "" {
			state, err = simstate.NewStoreAt(cfg.SimulateStateDir, cfg.Quote())
		} else {
			state, err = simstate.NewStore(cfg.Quote())
		}
		if err != nil {
			return nil, err
		}

		return trader.NewSimulateExchange(market, trader.SimulateOptions{
			QuoteAsset:   cfg.Quote(),
			InitialQuote: cfg.SimulateInitialQuote,
			FeeRate:      cfg.FeeRate,
			Store:        state,
		}, logger.Named("simulate"))
	default:
		return nil, errors.Errorf("unsupported exchange: %s", cfg.Exchange)
	}
}

// NewSchedule returns the cycle schedule for mode: the fixed daily clock
// times normally, a short cadence in test mode.
func NewSchedule(cfg config.Config, mode string) (scheduler.Schedule, error) {
	if mode == config.ModeTest {
		return scheduler.Cadence{Interval: cfg.TestCadence}, nil
	}
	daily, err := scheduler.NewDaily(cfg.Schedule, cfg.Location)
	if err != nil {
		return nil, err
	}
	return daily, nil
}
