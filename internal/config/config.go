package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds runtime settings. Every field has a default so a bare
// environment still produces a working server.
type Config struct {
	Port              string
	DBPath            string
	LogLevel          string
	BankDirectoryPath string

	DuplicateWindow    time.Duration
	RecurringWindow    time.Duration
	RecurringTolerance decimal.Decimal
	MinAccountScore    int
	DiscoveryEmitEvery int

	AIFallbackEnabled bool
	AIModel           string
	AIWorkers         int
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:               "8080",
		DBPath:             "kharcha.db",
		LogLevel:           "info",
		DuplicateWindow:    24 * time.Hour,
		RecurringWindow:    48 * time.Hour,
		RecurringTolerance: decimal.NewFromInt(5),
		MinAccountScore:    50,
		DiscoveryEmitEvery: 500,
		AIModel:            "gemini-2.5-flash",
		AIWorkers:          2,
	}
}

// Load reads the environment on top of Defaults. Malformed values are ignored.
func Load() Config {
	return load(os.Getenv)
}

func load(getenv func(string) string) Config {
	c := Defaults()

	if v := getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := getenv("DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	c.BankDirectoryPath = getenv("BANK_DIRECTORY_PATH")

	if h, ok := positiveInt(getenv("DUPLICATE_WINDOW_HOURS")); ok {
		c.DuplicateWindow = time.Duration(h) * time.Hour
	}
	if d, ok := positiveInt(getenv("RECURRING_WINDOW_DAYS")); ok {
		c.RecurringWindow = time.Duration(d) * 24 * time.Hour
	}
	if v := getenv("RECURRING_AMOUNT_TOLERANCE"); v != "" {
		if tol, err := decimal.NewFromString(v); err == nil && !tol.IsNegative() {
			c.RecurringTolerance = tol
		}
	}
	if n, ok := positiveInt(getenv("MIN_ACCOUNT_SCORE")); ok && n <= 100 {
		c.MinAccountScore = n
	}
	if n, ok := positiveInt(getenv("DISCOVERY_EMIT_EVERY")); ok {
		c.DiscoveryEmitEvery = n
	}

	if v := getenv("AI_FALLBACK_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.AIFallbackEnabled = b
		}
	}
	if v := getenv("AI_MODEL"); v != "" {
		c.AIModel = v
	}
	if n, ok := positiveInt(getenv("AI_WORKERS")); ok {
		c.AIWorkers = n
	}

	return c
}

func positiveInt(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
