// outbox-requeue moves ledger outbox rows that were marked FAILED or DEAD back to
// PENDING so the dispatcher publishes them again.
//
// Usage:
//   go run ./cmd/outbox-requeue --business-id=<uuid>                  # counts only
//   go run ./cmd/outbox-requeue --business-id=<uuid> --record-id=42 --dry-run=false
//   go run ./cmd/outbox-requeue --business-id=<uuid> --all-dead --dry-run=false
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	recordID := flag.Int("record-id", 0, "Outbox record id to requeue (FAILED or DEAD)")
	allDead := flag.Bool("all-dead", false, "Requeue every DEAD record of the business")
	dryRun := flag.Bool("dry-run", true, "Show counts only (no writes)")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}
	if !*dryRun && *recordID <= 0 && !*allDead {
		fmt.Fprintln(os.Stderr, "set --record-id or --all-dead")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)
	outbox := models.NewLedgerOutboxStore(db)

	if *dryRun {
		counts, err := outbox.CountByStatus(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "count failed: %v\n", err)
			os.Exit(1)
		}
		for _, status := range []string{
			models.LedgerOutboxStatusPending,
			models.LedgerOutboxStatusInFlight,
			models.LedgerOutboxStatusFailed,
			models.LedgerOutboxStatusDead,
			models.LedgerOutboxStatusAcknowledged,
		} {
			fmt.Printf("%-13s %d\n", status, counts[status])
		}
		return
	}

	id := *recordID
	if *allDead {
		id = 0
	}
	n, err := outbox.Requeue(ctx, *businessID, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "requeue failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("requeued %d record(s) for business %s\n", n, *businessID)
}
