package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Db         DbConfig         `mapstructure:"db"`
	Queue      QueueConfig      `mapstructure:"queue"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Pollers    PollerConfig     `mapstructure:"pollers"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Compounder CompounderConfig `mapstructure:"compounder"`
	Splitter   SplitterConfig   `mapstructure:"splitter"`
	Portfolio  PortfolioConfig  `mapstructure:"portfolio"`
}

func (cfg *Config) Validate() error {
	if err := cfg.Db.Validate(); err != nil {
		return err
	}
	if err := cfg.Queue.Validate(); err != nil {
		return err
	}
	if err := cfg.Metrics.Validate(); err != nil {
		return err
	}
	if err := cfg.Pollers.Validate(); err != nil {
		return err
	}
	if err := cfg.Vault.Validate(); err != nil {
		return err
	}
	if err := cfg.Compounder.Validate(); err != nil {
		return err
	}
	if err := cfg.Splitter.Validate(); err != nil {
		return err
	}
	if err := cfg.Portfolio.Validate(); err != nil {
		return err
	}
	return nil
}

// New loads the yaml config at path and validates every section. Environment
// variables override file values, with dots and dashes mapped to
// underscores.
func New(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
