package config

import (
	"errors"
	"fmt"
)

type CompounderConfig struct {
	Name               string `mapstructure:"name"`
	AccountID          string `mapstructure:"account-id"`
	Operator           string `mapstructure:"operator"`
	AssetDenom         string `mapstructure:"asset-denom"`
	AssetDecimals      uint8  `mapstructure:"asset-decimals"`
	WithdrawalFeeBp    uint32 `mapstructure:"withdrawal-fee-bp"`
	HarvestIncentiveBp uint32 `mapstructure:"harvest-incentive-bp"`

	// HarvestPayoutMode selects where the harvest incentive goes:
	// "operator-pool" accrues it to a claimable pool, "caller" pays the
	// harvest caller directly.
	HarvestPayoutMode string `mapstructure:"harvest-payout-mode"`
}

func (cfg *CompounderConfig) Validate() error {
	if cfg.Name == "" {
		return errors.New("compounder name must be set")
	}
	if cfg.AccountID == "" {
		return errors.New("compounder account-id must be set")
	}
	if cfg.Operator == "" {
		return errors.New("compounder operator must be set")
	}
	if cfg.AssetDenom == "" {
		return errors.New("compounder asset-denom must be set")
	}
	if cfg.AssetDecimals > 18 {
		return fmt.Errorf("compounder asset-decimals must be within [0, 18], got %d", cfg.AssetDecimals)
	}
	if cfg.WithdrawalFeeBp > 500 {
		return fmt.Errorf("compounder withdrawal-fee-bp must not exceed 500, got %d", cfg.WithdrawalFeeBp)
	}
	if cfg.HarvestIncentiveBp >= 10000 {
		return fmt.Errorf("compounder harvest-incentive-bp must be below 10000, got %d", cfg.HarvestIncentiveBp)
	}
	if cfg.HarvestPayoutMode != "operator-pool" && cfg.HarvestPayoutMode != "caller" {
		return fmt.Errorf("compounder harvest-payout-mode must be operator-pool or caller, got %q", cfg.HarvestPayoutMode)
	}
	return nil
}
