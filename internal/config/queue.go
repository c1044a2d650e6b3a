package config

import (
	"errors"
	"fmt"
	"time"
)

type QueueConfig struct {
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Url            string        `mapstructure:"url"`
	Exchange       string        `mapstructure:"exchange"`
	PublishTimeout time.Duration `mapstructure:"publish-timeout"`
	MaxRetries     uint          `mapstructure:"max-retries"`
}

func (cfg *QueueConfig) Validate() error {
	if cfg.Url == "" {
		return errors.New("queue url must be set")
	}
	if cfg.Exchange == "" {
		return errors.New("queue exchange must be set")
	}
	if cfg.PublishTimeout <= 0 {
		return errors.New("queue publish-timeout must be positive")
	}
	if cfg.MaxRetries == 0 {
		return errors.New("queue max-retries must be positive")
	}
	return nil
}

// ConnectionString assembles the amqp URL with credentials.
func (cfg *QueueConfig) ConnectionString() string {
	return fmt.Sprintf("amqp://%s:%s@%s", cfg.Username, cfg.Password, cfg.Url)
}
