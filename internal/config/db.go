package config

import (
	"errors"
	"time"
)

type DbConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Address  string `mapstructure:"address"`
	DbName   string `mapstructure:"db-name"`

	// DistributionRetention prunes distribution records older than this.
	DistributionRetention time.Duration `mapstructure:"distribution-retention"`
}

func (cfg *DbConfig) Validate() error {
	if cfg.Address == "" {
		return errors.New("db address must be set")
	}
	if cfg.DbName == "" {
		return errors.New("db name must be set")
	}
	if cfg.DistributionRetention <= 0 {
		return errors.New("distribution-retention must be positive")
	}
	return nil
}
