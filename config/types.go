package config

import "time"

// Config represents the complete configuration structure
type Config struct {
	Exact   ExactConfig   `mapstructure:"exact"`
	Tokens  TokensConfig  `mapstructure:"tokens"`
	Filter  FilterConfig  `mapstructure:"filter"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ExactConfig holds Exact Online API connection details
type ExactConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	ClientID        string        `mapstructure:"client_id"`
	ClientSecret    string        `mapstructure:"client_secret"`
	RedirectURL     string        `mapstructure:"redirect_url"`
	Division        int           `mapstructure:"division"`
	Timeout         time.Duration `mapstructure:"timeout"`
	WaitOnRateLimit bool          `mapstructure:"wait_on_rate_limit"`
}

// TokensConfig controls where OAuth tokens are persisted between runs
type TokensConfig struct {
	Backend string      `mapstructure:"backend"`
	File    string      `mapstructure:"file"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds the Redis connection used by the redis token backend
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// FilterConfig contains named filter expressions usable with list --preset
type FilterConfig map[string]string

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}
