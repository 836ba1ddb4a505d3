package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// BillingConfig tunes the aggregation pipeline. It can be changed at
// runtime through the watched config file.
type BillingConfig struct {
	// TaxRateBasisPoints is the consumption tax rate applied when
	// recomputing aggregate totals. 1000 = 10%.
	TaxRateBasisPoints int64 `mapstructure:"taxRateBasisPoints"`

	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
}

type DispatcherConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	BatchSize    int           `mapstructure:"batchSize"`
	Workers      int           `mapstructure:"workers"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		TaxRateBasisPoints: 1000,
		Dispatcher: DispatcherConfig{
			PollInterval: 2 * time.Second,
			BatchSize:    100,
			Workers:      4,
		},
	}
}

type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

// NewBillingConfigHolderWith seeds a holder with a fixed config. Used by tests.
func NewBillingConfigHolderWith(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/guardbill/config")
	v.AddConfigPath("/etc/guardbill")
	v.AddConfigPath(".")

	v.SetEnvPrefix("GUARDBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.taxRateBasisPoints", defaults.TaxRateBasisPoints)
	v.SetDefault("billing.dispatcher.pollInterval", defaults.Dispatcher.PollInterval)
	v.SetDefault("billing.dispatcher.batchSize", defaults.Dispatcher.BatchSize)
	v.SetDefault("billing.dispatcher.workers", defaults.Dispatcher.Workers)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log := zap.L().Named("billing.config")
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

func validateBillingConfig(cfg BillingConfig) error {
	if cfg.TaxRateBasisPoints < 0 {
		return errors.New("billing.taxRateBasisPoints cannot be negative")
	}
	if cfg.Dispatcher.BatchSize <= 0 {
		return errors.New("billing.dispatcher.batchSize must be positive")
	}
	if cfg.Dispatcher.Workers <= 0 {
		return errors.New("billing.dispatcher.workers must be positive")
	}
	return nil
}
