package config

import (
	"fmt"
	"time"

	"github.com/dgnsrekt/leadfeed/internal/idempotency"
)

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	Release           string        `mapstructure:"release"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"` // 0 keeps long-lived feed connections open
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ClientEventBuffer int           `mapstructure:"client_event_buffer"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type IdempotencyConfig struct {
	Backend string       `mapstructure:"backend"`
	Redis   RedisConfig  `mapstructure:"redis"`
	MySQL   MySQLConfig  `mapstructure:"mysql"`
	Pebble  PebbleConfig `mapstructure:"pebble"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type PebbleConfig struct {
	Dir string `mapstructure:"dir"`
}

// Options converts the section into store options.
func (c IdempotencyConfig) Options() idempotency.Options {
	return idempotency.Options{
		Backend: c.Backend,
		Redis: idempotency.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		},
		MySQLDSN:  c.MySQL.DSN,
		PebbleDir: c.Pebble.Dir,
	}
}
