package config

import (
	"errors"
	"time"
)

type PollerConfig struct {
	SyncPollingInterval         time.Duration `mapstructure:"sync-polling-interval"`
	DistributionPollingInterval time.Duration `mapstructure:"distribution-polling-interval"`
	HarvestPollingInterval      time.Duration `mapstructure:"harvest-polling-interval"`
	RebalancePollingInterval    time.Duration `mapstructure:"rebalance-polling-interval"`
}

func (cfg *PollerConfig) Validate() error {
	if cfg.SyncPollingInterval <= 0 {
		return errors.New("sync-polling-interval must be positive")
	}
	if cfg.DistributionPollingInterval <= 0 {
		return errors.New("distribution-polling-interval must be positive")
	}
	if cfg.HarvestPollingInterval <= 0 {
		return errors.New("harvest-polling-interval must be positive")
	}
	if cfg.RebalancePollingInterval <= 0 {
		return errors.New("rebalance-polling-interval must be positive")
	}
	return nil
}
