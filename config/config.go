package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL string

	// LockTimeout bounds how long a ledger operation waits for a contended
	// row lock before failing with a retriable lock-timeout error
	LockTimeout time.Duration

	// RequiredConfirmations maps a currency to the confirmation count at
	// which deposits and withdrawals reach finality
	RequiredConfirmations map[string]int32

	// Deposit poller configuration
	DepositPollInterval time.Duration
	DepositMaxAttempts  uint64

	// Environment is "development", "production" or "test"
	Environment string
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the global configuration instance
func Get() *Config {
	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	})
	return instance
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),

		// Defaults: 3s lock budget, deposit polling every 5 minutes for up
		// to 100 attempts, BTC finality at 6 confirmations
		LockTimeout:           3 * time.Second,
		RequiredConfirmations: map[string]int32{"btc_satoshi": 6},
		DepositPollInterval:   5 * time.Minute,
		DepositMaxAttempts:    100,

		Environment: os.Getenv("ENVIRONMENT"),
	}

	if ms := os.Getenv("LOCK_TIMEOUT_MS"); ms != "" {
		parsed, err := strconv.Atoi(ms)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("invalid LOCK_TIMEOUT_MS value %q", ms)
		}
		config.LockTimeout = time.Duration(parsed) * time.Millisecond
	}

	if interval := os.Getenv("DEPOSIT_POLL_INTERVAL"); interval != "" {
		parsed, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid DEPOSIT_POLL_INTERVAL value %q", interval)
		}
		config.DepositPollInterval = parsed
	}

	if attempts := os.Getenv("DEPOSIT_MAX_ATTEMPTS"); attempts != "" {
		parsed, err := strconv.ParseUint(attempts, 10, 64)
		if err != nil || parsed == 0 {
			return nil, fmt.Errorf("invalid DEPOSIT_MAX_ATTEMPTS value %q", attempts)
		}
		config.DepositMaxAttempts = parsed
	}

	if reqs := os.Getenv("CONFIRMATION_REQUIREMENTS"); reqs != "" {
		parsed, err := parseConfirmationRequirements(reqs)
		if err != nil {
			return nil, err
		}
		config.RequiredConfirmations = parsed
	}

	if config.Environment == "" {
		config.Environment = "development"
	}

	if config.Environment != "test" {
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
	}

	return config, nil
}

// parseConfirmationRequirements parses a "currency:count" list, e.g.
// "btc_satoshi:6,eth_wei:12". New currencies extend the mapping without
// touching engine code.
func parseConfirmationRequirements(raw string) (map[string]int32, error) {
	requirements := make(map[string]int32)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		currency, countStr, found := strings.Cut(pair, ":")
		if !found {
			return nil, fmt.Errorf("invalid confirmation requirement %q", pair)
		}

		count, err := strconv.ParseInt(strings.TrimSpace(countStr), 10, 32)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("invalid confirmation count in %q", pair)
		}

		requirements[strings.TrimSpace(currency)] = int32(count)
	}

	if len(requirements) == 0 {
		return nil, fmt.Errorf("CONFIRMATION_REQUIREMENTS is empty")
	}

	return requirements, nil
}
