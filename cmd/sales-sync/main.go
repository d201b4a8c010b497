// sales-sync runs one POS sales pull for the given businesses and prints the result.
//
// Usage:
//   POS_API_BASE_URL=... POS_API_KEY=... DB_*=... REDIS_ADDRESS=... \
//     go run ./cmd/sales-sync --business-ids=<uuid>,<uuid>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/salesync"
)

func main() {
	businessIDs := flag.String("business-ids", "", "Required: comma-separated business ids")
	flag.Parse()

	var ids []string
	for _, id := range strings.Split(*businessIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "--business-ids is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	syncer, err := salesync.NewSyncer(
		salesync.ClientConfigFromEnv(),
		models.NewPosSaleFeed(db),
		models.NewCashRegisterStore(db),
		salesync.RedisCursors{},
		logger,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sales sync not configured: %v\n", err)
		os.Exit(1)
	}

	failed := false
	for _, id := range ids {
		result, err := syncer.SyncOnce(context.Background(), id)
		if err != nil {
			failed = true
			fmt.Fprintf(os.Stderr, "business=%s sync failed: %v\n", id, err)
			continue
		}
		fmt.Printf("business=%s synced=%d errors=%d updated_since=%s\n",
			id, result.Synced, len(result.Errors), result.Cursor.UpdatedSince)
		for _, e := range result.Errors {
			fmt.Printf("  sale=%s code=%s retryable=%v: %s\n", e.ExternalId, e.Code, e.Retryable, e.Message)
		}
	}
	if failed {
		os.Exit(1)
	}
}
