package config

import (
	"context"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Watch reloads the trading policy from path whenever the file changes
// until ctx is done. Invalid edits are logged and ignored.
func Watch(ctx context.Context, path string, store *PolicyStore, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", path)
	}

	var stopped atomic.Bool
	go func() {
		<-ctx.Done()
		stopped.Store(true)
	}()

	v.OnConfigChange(func(evt fsnotify.Event) {
		if stopped.Load() || !evt.Has(fsnotify.Write|fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.Error("config reload failed", zap.String("file", evt.Name), zap.Error(err))
			return
		}
		store.Replace(cfg.Policy())
		logger.Info("trading policy reloaded",
			zap.Int("instruments", len(cfg.Instruments)),
			zap.Strings("excluded", store.Current().ExcludedList()),
			zap.String("invest_fraction", cfg.InvestFraction.String()),
			zap.String("min_notional", cfg.MinNotional.String()))
	})
	v.WatchConfig()
	return nil
}
