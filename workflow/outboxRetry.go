package workflow

import (
	"math"
	"time"

	"github.com/mmdatafocus/cashier_backend/config"
)

type OutboxRetryConfig struct {
	BatchSize    int
	PollInterval time.Duration
	LockTimeout  time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// GetOutboxRetryConfig reads LEDGER_OUTBOX_* overrides on top of the defaults.
func GetOutboxRetryConfig() OutboxRetryConfig {
	return OutboxRetryConfig{
		BatchSize:    config.IntFromEnv("LEDGER_OUTBOX_BATCH_SIZE", 50),
		PollInterval: time.Duration(config.IntFromEnv("LEDGER_OUTBOX_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		LockTimeout:  time.Duration(config.IntFromEnv("LEDGER_OUTBOX_LOCK_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxAttempts:  config.IntFromEnv("LEDGER_OUTBOX_MAX_ATTEMPTS", 20),
		BaseBackoff:  time.Duration(config.IntFromEnv("LEDGER_OUTBOX_BASE_BACKOFF_SECONDS", 5)) * time.Second,
		MaxBackoff:   time.Duration(config.IntFromEnv("LEDGER_OUTBOX_MAX_BACKOFF_SECONDS", 600)) * time.Second,
	}
}

// OutboxBackoff is base * 2^(attempt-1), capped at max.
func OutboxBackoff(attempt int, base time.Duration, max time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay >= float64(max) {
		return max
	}
	return time.Duration(delay)
}
