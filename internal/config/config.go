package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the schwabbridge adapter.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Schwab  Schwab        `yaml:"schwab"`
	Logging Logging       `yaml:"logging"`
	Trading TradingConfig `yaml:"trading"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Schwab holds credentials and endpoints for the brokerage API.
type Schwab struct {
	AppKey        string `yaml:"app_key"`
	AppSecret     string `yaml:"app_secret"`
	RefreshToken  string `yaml:"refresh_token"`
	AccountNumber string `yaml:"account_number"`
	BaseURL       string `yaml:"base_url"`
	AuthURL       string `yaml:"auth_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TradingConfig defines execution parameters.
type TradingConfig struct {
	// OpenOrderLookback bounds the entered-time window when recovering
	// working orders at startup.
	OpenOrderLookback time.Duration `yaml:"open_order_lookback"`
	// UpdateTimeout bounds the wait for a replace confirmation.
	UpdateTimeout time.Duration `yaml:"update_timeout"`
	// EventBuffer sizes the order event channel handed to the host.
	EventBuffer int `yaml:"event_buffer"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set. Credentials
// normally arrive this way rather than sitting in the YAML file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("SCHWAB_APP_KEY"); v != "" {
		cfg.Schwab.AppKey = v
	}
	if v := os.Getenv("SCHWAB_APP_SECRET"); v != "" {
		cfg.Schwab.AppSecret = v
	}
	if v := os.Getenv("SCHWAB_REFRESH_TOKEN"); v != "" {
		cfg.Schwab.RefreshToken = v
	}
	if v := os.Getenv("SCHWAB_ACCOUNT_NUMBER"); v != "" {
		cfg.Schwab.AccountNumber = v
	}
	if v := os.Getenv("SCHWAB_BASE_URL"); v != "" {
		cfg.Schwab.BaseURL = v
	}
	if v := os.Getenv("SCHWAB_AUTH_URL"); v != "" {
		cfg.Schwab.AuthURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyDefaults fills fields that are safe to default.
func applyDefaults(cfg *Config) {
	if cfg.Schwab.BaseURL == "" {
		cfg.Schwab.BaseURL = "https://api.schwabapi.com"
	}
	if cfg.Schwab.AuthURL == "" {
		cfg.Schwab.AuthURL = "https://api.schwabapi.com/v1/oauth/token"
	}
	if cfg.Trading.OpenOrderLookback == 0 {
		cfg.Trading.OpenOrderLookback = 24 * time.Hour
	}
	if cfg.Trading.UpdateTimeout == 0 {
		cfg.Trading.UpdateTimeout = 5 * time.Second
	}
	if cfg.Trading.EventBuffer == 0 {
		cfg.Trading.EventBuffer = 256
	}
}
