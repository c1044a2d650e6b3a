package config

import (
	"errors"
	"fmt"
)

type VaultConfig struct {
	Name          string `mapstructure:"name"`
	AccountID     string `mapstructure:"account-id"`
	Operator      string `mapstructure:"operator"`
	AssetDenom    string `mapstructure:"asset-denom"`
	AssetDecimals uint8  `mapstructure:"asset-decimals"`
	MaxStrategies int    `mapstructure:"max-strategies"`
}

func (cfg *VaultConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("vault name must be set")
	}
	if cfg.AccountID == "" {
		return errors.New("vault account-id must be set")
	}
	if cfg.Operator == "" {
		return errors.New("vault operator must be set")
	}
	if cfg.AssetDenom == "" {
		return errors.New("vault asset-denom must be set")
	}
	if cfg.AssetDecimals > 18 {
		return fmt.Errorf("vault asset-decimals must be within [0, 18], got %d", cfg.AssetDecimals)
	}
	if cfg.MaxStrategies <= 0 || cfg.MaxStrategies > 4 {
		return fmt.Errorf("vault max-strategies must be within [1, 4], got %d", cfg.MaxStrategies)
	}
	return nil
}
