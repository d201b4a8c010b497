// operator-token prints a bearer token for an operator, for local testing and for
// till devices provisioned by hand. API_SECRET must match the server's.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/cashier_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	operatorID := flag.String("operator-id", "", "Required: operator id")
	operatorName := flag.String("operator-name", "", "Operator display name recorded on ledger events")
	admin := flag.Bool("admin", false, "Issue an admin token (can register supervisors)")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || strings.TrimSpace(*operatorID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id and --operator-id are required")
		os.Exit(1)
	}
	token, err := utils.JwtGenerate(strings.TrimSpace(*businessID), strings.TrimSpace(*operatorID), strings.TrimSpace(*operatorName), *admin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "token generation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
