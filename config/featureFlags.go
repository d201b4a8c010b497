package config

import (
	"os"
	"strings"
)

// LedgerBalanceCacheEnabled turns on the in-process replay memo for register balances.
// Defaults to on; set LEDGER_BALANCE_CACHE=false to replay on every read.
func LedgerBalanceCacheEnabled() bool {
	return envBool("LEDGER_BALANCE_CACHE", true)
}

// OutboxDirectProcessing applies ledger outbox rows to the local replica tables
// instead of publishing them to Pub/Sub. Intended for single-node installs.
//
// Set via env:
// - OUTBOX_DIRECT_PROCESSING=true
func OutboxDirectProcessing() bool {
	return envBool("OUTBOX_DIRECT_PROCESSING", false)
}

// SalesSyncEnabled starts the background POS sales pull loop inside the server.
func SalesSyncEnabled() bool {
	return envBool("SALES_SYNC_ENABLED", false)
}

// SkipMigrations disables AutoMigrate at boot (SKIP_MIGRATIONS=true).
func SkipMigrations() bool {
	return envBool("SKIP_MIGRATIONS", false)
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	}
	return def
}
