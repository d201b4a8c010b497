// ledger-replay prints the session derived from a register's event log, event by event.
// Nothing is written.
//
// Usage:
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//     go run ./cmd/ledger-replay --business-id=<uuid> --register-id=3
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/ledger"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/registry"
	"github.com/mmdatafocus/cashier_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	registerID := flag.Int("register-id", 0, "Required: cash register id")
	verbose := flag.Bool("verbose", false, "Print the running balance after every event")
	asJSON := flag.Bool("json", false, "Print the derived session as JSON")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || *registerID <= 0 {
		fmt.Fprintln(os.Stderr, "--business-id and --register-id are required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	ctx := utils.SetBusinessIdInContext(context.Background(), *businessID)

	registers := registry.New(models.NewCashRegisterStore(db), config.GetLogger())
	l := ledger.New(models.NewLedgerEventStore(db), models.NewPosSaleFeed(db), registers)

	register, err := registers.GetRegister(ctx, *registerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "register lookup failed: %v\n", err)
		os.Exit(1)
	}
	events, err := l.EventsForRegister(ctx, *registerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list events failed: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		for i := range events {
			s := ledger.Replay(*registerID, events[:i+1])
			ev := events[i]
			fmt.Printf("%s  %-10s %12s  by=%-12s state=%-6s ledger=%s\n",
				ev.OccurredAt.Format("2006-01-02 15:04:05"), ev.Kind, ev.Amount.StringFixed(2),
				ev.OperatorId, s.State, s.LedgerBalance.StringFixed(2))
			if ev.Kind == models.LedgerEventKindClose && ev.Difference != nil {
				fmt.Printf("    discrepancy=%s reason=%q authorized_by=%q\n",
					ev.Difference.StringFixed(2), deref(ev.DiscrepancyReason), deref(ev.AuthorizedBy))
			}
		}
	}

	session, err := l.Session(ctx, *registerID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		os.Exit(1)
	}
	if *asJSON {
		b, _ := json.MarshalIndent(session, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Printf("register=%d (%s %s) events=%d state=%s\n", register.ID, register.RegisterNumber, register.Name, len(events), session.State)
	if session.IsOpen() {
		fmt.Printf("opened_at=%s opened_by=%s opening=%s deposits=%s withdrawals=%s cash_sales=%s balance=%s\n",
			session.OpenedAt.Format("2006-01-02 15:04:05"), session.OpenedBy,
			session.OpeningAmount.StringFixed(2), session.Deposits.StringFixed(2), session.Withdrawals.StringFixed(2),
			session.CashSales.StringFixed(2), session.Balance().StringFixed(2))
	}
	if active := register.Active(); active != session.IsOpen() {
		fmt.Printf("WARNING: register is_active=%v but replayed state is %s\n", active, session.State)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
