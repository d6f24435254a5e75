package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Market   MarketConfig   `mapstructure:"market"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type ExchangeConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL                  string        `mapstructure:"url"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
}

// MarketConfig drives the in-memory stores and the change calculator.
type MarketConfig struct {
	// Minimum 24h quote volume for a symbol to enter discovery.
	MinQuoteVolume float64 `mapstructure:"min_quote_volume"`

	TickerExpiry  time.Duration `mapstructure:"ticker_expiry"`
	SymbolExpiry  time.Duration `mapstructure:"symbol_expiry"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// Retained candles per interval, e.g. {"5m": 144, "30m": 48, "1h": 24}.
	MaxCounts map[string]int `mapstructure:"max_counts"`

	Horizons []HorizonConfig `mapstructure:"horizons"`
}

// HorizonConfig maps a named change horizon to a candle interval and a
// number of intervals to look back, e.g. {name: "1h", interval: "5m",
// periods_back: 12}.
type HorizonConfig struct {
	Name        string `mapstructure:"name"`
	Interval    string `mapstructure:"interval"`
	PeriodsBack int    `mapstructure:"periods_back"`
}

type BackfillConfig struct {
	TopSymbols       int           `mapstructure:"top_symbols"`
	BatchSize        int           `mapstructure:"batch_size"`
	RequestDelay     time.Duration `mapstructure:"request_delay"`
	BatchDelay       time.Duration `mapstructure:"batch_delay"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	RotationSize     int           `mapstructure:"rotation_size"`
	RateLimitPause   time.Duration `mapstructure:"rate_limit_pause"`

	// Used before discovery has ranked anything.
	SeedSymbols []string `mapstructure:"seed_symbols"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., EXCHANGE_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	cfg.applyDefaults()

	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Market.SweepInterval <= 0 {
		c.Market.SweepInterval = 5 * time.Minute
	}
	if c.Market.TickerExpiry <= 0 {
		c.Market.TickerExpiry = 30 * time.Minute
	}
	if c.Market.SymbolExpiry <= 0 {
		c.Market.SymbolExpiry = 30 * time.Minute
	}
	if len(c.Market.MaxCounts) == 0 {
		c.Market.MaxCounts = map[string]int{"5m": 144, "30m": 48, "1h": 24}
	}
	if len(c.Market.Horizons) == 0 {
		c.Market.Horizons = []HorizonConfig{
			{Name: "1h", Interval: "5m", PeriodsBack: 12},
			{Name: "4h", Interval: "30m", PeriodsBack: 8},
			{Name: "8h", Interval: "30m", PeriodsBack: 16},
			{Name: "12h", Interval: "1h", PeriodsBack: 12},
		}
	}
	if c.Exchange.WS.ReconnectDelay <= 0 {
		c.Exchange.WS.ReconnectDelay = 5 * time.Second
	}
	if c.Exchange.WS.MaxReconnectAttempts <= 0 {
		c.Exchange.WS.MaxReconnectAttempts = 60
	}
	if c.Backfill.RateLimitPause <= 0 {
		c.Backfill.RateLimitPause = 30 * time.Second
	}
	if c.Backfill.RotationSize <= 0 {
		c.Backfill.RotationSize = c.Backfill.TopSymbols / 2
	}
}
