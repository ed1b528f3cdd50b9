package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config carries the technical knobs loaded from the environment. Business
// configuration (company identity, invoice prefix, default terms) lives in
// the company_settings table instead.
type Config struct {
	DatabaseURL string
	// NumberDigits is the zero-padded width of generated document codes.
	NumberDigits int
	// DueDays is the default payment term applied when an invoice has no
	// explicit due date.
	DueDays int
	// StockLevelPrecision is the number of decimal places kept on the cached
	// stock aggregate. The movement ledger always keeps 3.
	StockLevelPrecision int
	LogLevel            string
}

// Load reads .env if present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		NumberDigits:        intEnv("SEQUENCE_NUMBER_DIGITS", 4),
		DueDays:             intEnv("INVOICE_DUE_DAYS", 30),
		StockLevelPrecision: intEnv("STOCK_LEVEL_PRECISION", 3),
		LogLevel:            stringEnv("LOG_LEVEL", "info"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return cfg, nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
