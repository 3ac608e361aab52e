package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	appDir        = ".exactonline"
	envPrefix     = "EXACT"
	tokenFileName = "tokens.yaml"
)

// Load loads the configuration from file and EXACT_* environment variables.
// A missing config file is only an error when configPath is given explicitly.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, appDir))
		}

		// Check /etc
		v.AddConfigPath("/etc/exactonline/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Tokens.File == "" {
		cfg.Tokens.File = defaultTokenFile()
	}

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. Every key gets a default
// so that AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	// Exact Online defaults
	v.SetDefault("exact.base_url", "https://start.exactonline.nl")
	v.SetDefault("exact.client_id", "")
	v.SetDefault("exact.client_secret", "")
	v.SetDefault("exact.redirect_url", "")
	v.SetDefault("exact.division", 0)
	v.SetDefault("exact.timeout", "30s")
	v.SetDefault("exact.wait_on_rate_limit", false)

	v.SetDefault("tokens.backend", "file")
	v.SetDefault("tokens.file", "")
	v.SetDefault("tokens.redis.addr", "localhost:6379")
	v.SetDefault("tokens.redis.password", "")
	v.SetDefault("tokens.redis.db", 0)
	v.SetDefault("tokens.redis.key_prefix", "exactonline")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

func defaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return tokenFileName
	}
	return filepath.Join(home, appDir, tokenFileName)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	u, err := url.Parse(cfg.Exact.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("exact.base_url must be an absolute URL, got %q", cfg.Exact.BaseURL)
	}

	if cfg.Exact.ClientID == "" || cfg.Exact.ClientID == "your-client-id-here" {
		return fmt.Errorf("exact.client_id must be set to a registered app client ID")
	}

	if cfg.Exact.Division < 0 {
		return fmt.Errorf("exact.division must not be negative")
	}

	if cfg.Exact.Timeout < 0 {
		return fmt.Errorf("exact.timeout must not be negative")
	}

	switch cfg.Tokens.Backend {
	case "file":
	case "redis":
		if cfg.Tokens.Redis.Addr == "" {
			return fmt.Errorf("tokens.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid tokens.backend: %s (must be 'file' or 'redis')", cfg.Tokens.Backend)
	}

	for name, expression := range cfg.Filter {
		if strings.TrimSpace(expression) == "" {
			return fmt.Errorf("filter preset %q is empty", name)
		}
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}
