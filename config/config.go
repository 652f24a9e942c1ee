// Package config loads the daemon configuration from environment variables,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	str2duration "github.com/xhit/go-str2duration/v2"

	"github.com/raykavin/trailbot/core"
)

// Strategy modes accepted in MODE.
const (
	ModeMultipliers = "multipliers"
	ModeRebuy       = "rebuy"
)

// Exchange backends accepted in EXCHANGE.
const (
	ExchangeKraken  = "kraken"
	ExchangeBinance = "binance"
)

// Closed-log backends accepted in CLOSED_BACKEND.
const (
	ClosedBackendBuntDB = "buntdb"
	ClosedBackendSQLite = "sqlite"
)

// PairParams holds the per-pair trading parameters. ATRMinPct is derived:
// MIN_MARGIN / (K_ACT - K_STOP_SELL) when the denominator is positive.
type PairParams struct {
	KAct          decimal.Decimal
	KStopSell     decimal.Decimal
	KStopBuy      decimal.Decimal
	MinMargin     decimal.Decimal
	ATRMinPct     decimal.Decimal
	MinAllocation decimal.Decimal
}

// Config is the full daemon configuration.
type Config struct {
	Exchange string

	KrakenKey     string
	KrakenSecret  string
	BinanceKey    string
	BinanceSecret string

	TelegramToken string
	AllowedUserID int64
	PollInterval  time.Duration

	Mode          string
	SleepInterval time.Duration
	ATRDataDays   int

	PairNames []string
	Params    map[string]PairParams

	StateFile     string
	ClosedDB      string
	ClosedBackend string
	LogLevel      string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Exchange:      getEnv("EXCHANGE", ExchangeKraken),
		KrakenKey:     os.Getenv("KRAKEN_API_KEY"),
		KrakenSecret:  os.Getenv("KRAKEN_API_SECRET"),
		BinanceKey:    os.Getenv("BINANCE_API_KEY"),
		BinanceSecret: os.Getenv("BINANCE_API_SECRET"),
		TelegramToken: os.Getenv("TELEGRAM_TOKEN"),
		Mode:          getEnv("MODE", ModeMultipliers),
		ATRDataDays:   getEnvInt("ATR_DATA_DAYS", 60),
		StateFile:     getEnv("STATE_FILE", "data/trailing_state.json"),
		ClosedDB:      getEnv("CLOSED_DB", "data/closed_positions.db"),
		ClosedBackend: getEnv("CLOSED_BACKEND", ClosedBackendBuntDB),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.SleepInterval, err = getEnvInterval("SLEEPING_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvInterval("POLL_INTERVAL_SEC", 20*time.Second); err != nil {
		return nil, err
	}

	if raw := os.Getenv("ALLOWED_USER_ID"); raw != "" {
		cfg.AllowedUserID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_USER_ID: %w", err)
		}
	}

	cfg.PairNames = splitPairs(os.Getenv("PAIRS"))
	cfg.Params = buildPairParams(cfg.PairNames)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.PairNames) == 0 {
		return core.ErrNoPairs
	}

	switch c.Mode {
	case ModeMultipliers, ModeRebuy:
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownMode, c.Mode)
	}

	switch c.Exchange {
	case ExchangeKraken:
		if c.KrakenKey == "" || c.KrakenSecret == "" {
			return fmt.Errorf("%w: KRAKEN_API_KEY / KRAKEN_API_SECRET", core.ErrMissingCredentials)
		}
	case ExchangeBinance:
		if c.BinanceKey == "" || c.BinanceSecret == "" {
			return fmt.Errorf("%w: BINANCE_API_KEY / BINANCE_API_SECRET", core.ErrMissingCredentials)
		}
	default:
		return fmt.Errorf("unknown exchange: %q", c.Exchange)
	}

	if c.TelegramToken == "" || c.AllowedUserID == 0 {
		return fmt.Errorf("%w: TELEGRAM_TOKEN / ALLOWED_USER_ID", core.ErrMissingCredentials)
	}

	switch c.ClosedBackend {
	case ClosedBackendBuntDB, ClosedBackendSQLite:
	default:
		return fmt.Errorf("unknown closed-log backend: %q", c.ClosedBackend)
	}

	return nil
}

// buildPairParams resolves per-pair overrides against the global defaults.
func buildPairParams(pairs []string) map[string]PairParams {
	defaults := PairParams{
		KAct:          getEnvDecimal("K_ACT", decimal.NewFromFloat(4.5)),
		KStopSell:     getEnvDecimal("K_STOP_SELL", decimal.NewFromFloat(2.5)),
		KStopBuy:      getEnvDecimal("K_STOP_BUY", decimal.NewFromFloat(2.5)),
		MinMargin:     getEnvDecimal("MIN_MARGIN", decimal.NewFromFloat(0.01)),
		MinAllocation: decimal.Zero,
	}

	params := make(map[string]PairParams, len(pairs))
	for _, pair := range pairs {
		p := PairParams{
			KAct:          getEnvDecimal("K_ACT_"+pair, defaults.KAct),
			KStopSell:     getEnvDecimal("K_STOP_SELL_"+pair, defaults.KStopSell),
			KStopBuy:      getEnvDecimal("K_STOP_BUY_"+pair, defaults.KStopBuy),
			MinMargin:     getEnvDecimal("MIN_MARGIN_"+pair, defaults.MinMargin),
			MinAllocation: getEnvDecimal("MIN_ALLOCATION_"+pair, defaults.MinAllocation),
		}

		if spread := p.KAct.Sub(p.KStopSell); spread.IsPositive() {
			p.ATRMinPct = p.MinMargin.Div(spread)
		}

		params[pair] = p
	}

	return params
}

func splitPairs(raw string) []string {
	parts := strings.Split(raw, ",")
	return lo.FilterMap(parts, func(p string, _ int) (string, bool) {
		p = strings.ToUpper(strings.TrimSpace(p))
		return p, p != ""
	})
}

// Env helpers
// -----------

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvInterval accepts either a bare number of seconds ("60") or a
// duration string ("90s", "2m30s").
func getEnvInterval(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	d, err := str2duration.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
