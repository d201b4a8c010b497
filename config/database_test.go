package config

import (
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestDatabaseDSN(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		wantNet  string
		wantAddr string
	}{
		{"tcp", "db.internal", "tcp", "db.internal:3306"},
		{"cloud sql socket", "/cloudsql/proj:asia-southeast1:ledger", "unix", "/cloudsql/proj:asia-southeast1:ledger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DB_USER", "ledger")
			t.Setenv("DB_PASSWORD", "secret")
			t.Setenv("DB_HOST", tt.host)
			t.Setenv("DB_PORT", "3306")
			t.Setenv("DB_NAME", "cashier")

			cfg, err := mysql.ParseDSN(DatabaseDSN())
			if err != nil {
				t.Fatalf("ParseDSN: %v", err)
			}
			if cfg.Net != tt.wantNet || cfg.Addr != tt.wantAddr || cfg.DBName != "cashier" {
				t.Fatalf("net=%q addr=%q db=%q", cfg.Net, cfg.Addr, cfg.DBName)
			}
			if !cfg.ParseTime || !cfg.MultiStatements {
				t.Fatalf("parseTime=%v multiStatements=%v", cfg.ParseTime, cfg.MultiStatements)
			}
			// set on every new pooled connection by the driver
			if got := cfg.Params["transaction_isolation"]; got != "'READ-COMMITTED'" {
				t.Fatalf("transaction_isolation = %q", got)
			}
		})
	}
}
