package config

import (
	"errors"
	"fmt"
	"time"
)

type PortfolioConfig struct {
	Name                 string        `mapstructure:"name"`
	AccountID            string        `mapstructure:"account-id"`
	Operator             string        `mapstructure:"operator"`
	AssetDenom           string        `mapstructure:"asset-denom"`
	AssetDecimals        uint8         `mapstructure:"asset-decimals"`
	RebalanceThresholdBp uint32        `mapstructure:"rebalance-threshold-bp"`
	MinRebalanceInterval time.Duration `mapstructure:"min-rebalance-interval"`
	ApyWindow            int           `mapstructure:"apy-window"`
}

func (cfg *PortfolioConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("portfolio name must be set")
	}
	if cfg.AccountID == "" {
		return errors.New("portfolio account-id must be set")
	}
	if cfg.Operator == "" {
		return errors.New("portfolio operator must be set")
	}
	if cfg.AssetDenom == "" {
		return errors.New("portfolio asset-denom must be set")
	}
	if cfg.AssetDecimals > 18 {
		return fmt.Errorf("portfolio asset-decimals must be within [0, 18], got %d", cfg.AssetDecimals)
	}
	if cfg.RebalanceThresholdBp == 0 || cfg.RebalanceThresholdBp > 10000 {
		return fmt.Errorf("portfolio rebalance-threshold-bp must be within (0, 10000], got %d", cfg.RebalanceThresholdBp)
	}
	if cfg.MinRebalanceInterval <= 0 {
		return errors.New("portfolio min-rebalance-interval must be positive")
	}
	if cfg.ApyWindow <= 0 {
		return errors.New("portfolio apy-window must be positive")
	}
	return nil
}
