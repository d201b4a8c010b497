package models

import (
	"gorm.io/gorm"
)

func MigrateTable(db *gorm.DB) error {
	return db.AutoMigrate(
		&CashRegister{},
		&LedgerEvent{}, &LedgerOutboxRecord{}, &LedgerEventReplica{},
		&PosSale{}, &PosSalePayment{},
		&Supervisor{},
		&IdempotencyKey{},
	)
}
