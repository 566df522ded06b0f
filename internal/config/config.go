// Package config loads engine configuration from the environment, with .env
// support for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/arenalabs/arena-engine/internal/ledger"
	"github.com/arenalabs/arena-engine/internal/marketclock"
)

// Config holds all runtime settings for the arena engine.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	Market marketclock.Config

	// Transforms maps symbols to oracle price transforms. The default wires
	// the BTCUSD index conversion (raw * 0.001 / 10).
	Transforms map[string]ledger.PriceTransform
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	market := marketclock.DefaultConfig()
	market.Timezone = getEnv("MARKET_TIMEZONE", market.Timezone)

	open, err := marketclock.ParseTimeOfDay(getEnv("MARKET_OPEN", market.Open.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid MARKET_OPEN: %w", err)
	}
	market.Open = open

	closeAt, err := marketclock.ParseTimeOfDay(getEnv("MARKET_CLOSE", market.Close.String()))
	if err != nil {
		return nil, fmt.Errorf("invalid MARKET_CLOSE: %w", err)
	}
	market.Close = closeAt

	if days := os.Getenv("MARKET_TRADING_DAYS"); days != "" {
		parsed, err := parseTradingDays(days)
		if err != nil {
			return nil, err
		}
		market.TradingDays = parsed
	}

	if symbols := os.Getenv("MARKET_ALWAYS_OPEN"); symbols != "" {
		market.AlwaysOpen = splitList(symbols)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Market:      market,
		Transforms:  defaultTransforms(),
	}
	return cfg, nil
}

// defaultTransforms returns the per-symbol oracle price transforms. The
// BTCUSD feed carries an index value, not a price: effective price is
// raw * 0.001 / 10.
func defaultTransforms() map[string]ledger.PriceTransform {
	factor := decimal.NewFromFloat(0.001)
	ten := decimal.NewFromInt(10)
	return map[string]ledger.PriceTransform{
		"BTCUSD": func(raw decimal.Decimal) decimal.Decimal {
			return raw.Mul(factor).Div(ten)
		},
	}
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// parseTradingDays parses a comma-separated weekday list like "mon,tue,wed".
func parseTradingDays(s string) (map[time.Weekday]bool, error) {
	days := make(map[time.Weekday]bool)
	for _, name := range splitList(s) {
		day, ok := weekdayNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("invalid MARKET_TRADING_DAYS entry %q", name)
		}
		days[day] = true
	}
	return days, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
