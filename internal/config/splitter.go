package config

import (
	"errors"
	"fmt"
	"time"
)

type SplitterConfig struct {
	Name                 string        `mapstructure:"name"`
	AccountID            string        `mapstructure:"account-id"`
	Operator             string        `mapstructure:"operator"`
	MaturityHorizon      time.Duration `mapstructure:"maturity-horizon"`
	DistributionInterval time.Duration `mapstructure:"distribution-interval"`
	AutoCompound         bool          `mapstructure:"auto-compound"`

	// CompoundThreshold (asset units) defers auto-compounding distributions
	// below it to the next cycle.
	CompoundThreshold int64 `mapstructure:"compound-threshold"`
}

func (cfg *SplitterConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("splitter name must be set")
	}
	if cfg.AccountID == "" {
		return errors.New("splitter account-id must be set")
	}
	if cfg.Operator == "" {
		return errors.New("splitter operator must be set")
	}
	if cfg.MaturityHorizon <= 0 {
		return errors.New("splitter maturity-horizon must be positive")
	}
	if cfg.DistributionInterval < time.Hour || cfg.DistributionInterval > 24*time.Hour {
		return fmt.Errorf("splitter distribution-interval must be within [1h, 24h], got %s", cfg.DistributionInterval)
	}
	if cfg.CompoundThreshold < 0 {
		return errors.New("splitter compound-threshold must not be negative")
	}
	return nil
}
