// Package config loads the data-access layer's configuration from
// environment variables and an optional YAML file, with environment
// variables taking precedence. Structs are validated after loading, so a
// bad deployment fails at startup rather than on first use.
package config

import (
	"github.com/glimr-org/postgres"
)

// Config holds all settings for the data-access layer.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Log      LogConfig      `mapstructure:"log"      validate:"required"`
}

// DatabaseConfig contains connection and pool settings. Either URL or the
// host parameters may be populated; the driver validates the exclusivity
// when the pool is opened.
type DatabaseConfig struct {
	// URL is a full connection string. When set, the parameter fields below
	// must stay empty.
	URL string `mapstructure:"url" validate:"omitempty,uri"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"     validate:"gte=0,lte=65535"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// PoolSize bounds the connection pool. Zero lets the driver pick its
	// default.
	PoolSize int `mapstructure:"pool_size" validate:"gte=0"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

// Pool converts the database settings into a driver config, choosing the
// URL form when a URL is present and the parameter form otherwise.
func (d DatabaseConfig) Pool() postgres.Config {
	if d.URL != "" {
		return postgres.NewURLConfig(d.URL, d.PoolSize)
	}
	return postgres.NewConfig(d.Host, d.Port, d.Name, d.Username, d.Password, d.PoolSize)
}
