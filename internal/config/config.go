// Package config loads service configuration from a YAML file, an optional
// .env file and environment variable overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/peterluvCS/portfolio-manager/internal/instrument"
)

// DefaultPath is used when CONFIG_PATH is unset.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Database struct {
		URL        string `yaml:"url"` // PostgreSQL; wins over SQLitePath when set
		SQLitePath string `yaml:"sqlite_path"`
		Memory     bool   `yaml:"memory"` // volatile store, for demos
	} `yaml:"database"`
	Redis struct {
		URL      string        `yaml:"url"`
		PriceTTL time.Duration `yaml:"price_ttl"`
	} `yaml:"redis"`
	Ledger struct {
		InitialCash decimal.Decimal `yaml:"initial_cash"`
	} `yaml:"ledger"`
	Prices struct {
		Cron            string                  `yaml:"cron"`     // seconds-first cron spec; empty disables
		Provider        string                  `yaml:"provider"` // "yahoo" or "yfinance"
		Proxy           string                  `yaml:"proxy"`
		Instruments     []instrument.Instrument `yaml:"instruments"`
		InstrumentsFile string                  `yaml:"instruments_file"` // replaces Instruments when set
	} `yaml:"prices"`
	LogLevel string `yaml:"log_level"`
}

// Load reads the YAML file at path (a missing file is not an error), then
// .env, then environment overrides, then fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// PathFromEnv returns CONFIG_PATH or DefaultPath.
func PathFromEnv() string {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		return v
	}
	return DefaultPath
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v, ok := os.LookupEnv("PRICE_CRON"); ok {
		c.Prices.Cron = v
	}
	if v := os.Getenv("PRICE_PROVIDER"); v != "" {
		c.Prices.Provider = v
	}
	if v := os.Getenv("INSTRUMENTS_FILE"); v != "" {
		c.Prices.InstrumentsFile = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Prices.Proxy = v
	}
	if v := os.Getenv("INITIAL_CASH"); v != "" {
		cash, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("INITIAL_CASH: %w", err)
		}
		c.Ledger.InitialCash = cash
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "data/portfolio.db"
	}
	if c.Redis.PriceTTL == 0 {
		c.Redis.PriceTTL = 30 * time.Second
	}
	if c.Ledger.InitialCash.IsZero() {
		c.Ledger.InitialCash = decimal.NewFromInt(100000)
	}
	if c.Prices.Provider == "" {
		c.Prices.Provider = "yahoo"
	}
	if len(c.Prices.Instruments) == 0 {
		c.Prices.Instruments = instrument.Defaults()
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the loaded configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Ledger.InitialCash.IsNegative() {
		errs = append(errs, errors.New("ledger.initial_cash must not be negative"))
	}
	if c.Prices.Cron != "" {
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom |
			cron.Month | cron.Dow | cron.Descriptor).Parse(c.Prices.Cron); err != nil {
			errs = append(errs, fmt.Errorf("prices.cron: %w", err))
		}
	}
	switch c.Prices.Provider {
	case "yahoo", "yfinance":
	default:
		errs = append(errs, fmt.Errorf("prices.provider: unknown provider %q", c.Prices.Provider))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, err := c.Catalogue(); err != nil {
		errs = append(errs, fmt.Errorf("prices.instruments: %w", err))
	}
	return errors.Join(errs...)
}

// Catalogue builds the instrument catalogue from the instruments file, or
// from the inline list when no file is configured.
func (c *Config) Catalogue() (*instrument.Catalogue, error) {
	if c.Prices.InstrumentsFile != "" {
		return instrument.LoadCatalogue(c.Prices.InstrumentsFile)
	}
	return instrument.NewCatalogue(c.Prices.Instruments)
}

// Logger builds the root zerolog logger at the configured level.
func (c *Config) Logger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
}
