// Command autotrade runs the LLM-driven spot trading cycle on a schedule.
//
// Usage:
//
//	autotrade --config config.yaml
//	autotrade --mode test        (cycle every test_cadence)
//	autotrade --once             (single cycle, then exit)
//	autotrade --setup            (interactive wizard writing --config)
//
// Secrets are read from the environment or a .env file:
//
//	BINANCE_API_KEY, BINANCE_API_SECRET, LLM_API_KEY, SLACK_BOT_TOKEN, SERPAPI_API_KEY
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vadiminshakov/autotrade/config"
	"github.com/vadiminshakov/autotrade/internal"
	"github.com/vadiminshakov/autotrade/internal/scheduler"
	"github.com/vadiminshakov/autotrade/internal/setup"
	"github.com/vadiminshakov/autotrade/internal/tracing"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	if flags.Setup {
		if err := setup.RunTUI(flags.ConfigPath); err != nil {
			log.Fatal(err)
		}
	}

	logger, err := newLogger(flags.Mode)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	if cfg.Tracing {
		if err := tracing.Init(nil, version); err != nil {
			logger.Fatal("failed to init tracing", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracing.Shutdown(ctx)
		}()
	}

	app, err := internal.NewApp(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create trading bot", zap.Error(err))
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("failed to close stores", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.Once {
		summary, err := app.Bot.RunCycle(ctx)
		if err != nil {
			logger.Error("cycle failed", zap.Error(err))
			return
		}
		logger.Info("cycle finished",
			zap.String("cycle_id", summary.CycleID),
			zap.String("profit", summary.Profit.String()))
		return
	}

	if err := config.Watch(ctx, flags.ConfigPath, app.Policy, logger.Named("config")); err != nil {
		logger.Warn("config hot reload disabled", zap.Error(err))
	}

	if app.Dashboard != nil {
		go func() {
			if err := app.Dashboard.Start(ctx); err != nil {
				logger.Error("dashboard stopped", zap.Error(err))
			}
		}()
	}

	schedule, err := internal.NewSchedule(cfg, flags.Mode)
	if err != nil {
		logger.Fatal("failed to build schedule", zap.Error(err))
	}
	sched := scheduler.New(schedule, logger.Named("scheduler"))
	sched.RunImmediately = flags.Mode == config.ModeTest

	logger.Info("autotrade started",
		zap.String("version", version),
		zap.String("exchange", cfg.Exchange),
		zap.String("mode", flags.Mode),
		zap.Strings("excluded", app.Policy.Current().ExcludedList()))

	sched.Start(ctx, app.Bot.Trigger)

	logger.Info("shutting down, waiting for the running cycle")
	app.Bot.Shutdown()
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == config.ModeTest {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
