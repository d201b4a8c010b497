package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerEventReplica is a ledger event received from another instance. Replicas never
// enter ledger_events: SourceRegisterId is the sender's register id and does not
// resolve against local registers, so a replica cannot move a local balance.
type LedgerEventReplica struct {
	ID                int              `gorm:"primary_key" json:"id"`
	EventUid          string           `gorm:"size:36;uniqueIndex;not null" json:"event_uid"`
	BusinessId        string           `gorm:"size:64;index:idx_replica_source,priority:1;not null" json:"business_id"`
	SourceRegisterId  int              `gorm:"index:idx_replica_source,priority:2;not null" json:"source_register_id"`
	SourceEventId     int              `json:"source_event_id"`
	OperatorId        string           `gorm:"size:64;not null" json:"operator_id"`
	OperatorName      string           `gorm:"size:100" json:"operator_name"`
	Kind              LedgerEventKind  `gorm:"type:enum('Open','Close','Deposit','Withdrawal');not null" json:"kind"`
	Amount            decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"amount"`
	Reason            *string          `gorm:"type:text" json:"reason"`
	OccurredAt        time.Time        `gorm:"index:idx_replica_source,priority:3;not null" json:"occurred_at"`
	ExpectedAmount    *decimal.Decimal `gorm:"type:decimal(20,4)" json:"expected_amount"`
	Difference        *decimal.Decimal `gorm:"type:decimal(20,4)" json:"difference"`
	DiscrepancyReason *string          `gorm:"type:text" json:"discrepancy_reason"`
	AuthorizedBy      *string          `gorm:"size:255" json:"authorized_by"`
	CorrelationId     string           `gorm:"size:64" json:"correlation_id"`
	ReceivedAt        time.Time        `gorm:"autoCreateTime" json:"received_at"`
}

func NewLedgerEventReplica(event *LedgerEvent) *LedgerEventReplica {
	return &LedgerEventReplica{
		EventUid:          event.EventUid,
		BusinessId:        event.BusinessId,
		SourceRegisterId:  event.RegisterId,
		SourceEventId:     event.ID,
		OperatorId:        event.OperatorId,
		OperatorName:      event.OperatorName,
		Kind:              event.Kind,
		Amount:            event.Amount,
		Reason:            event.Reason,
		OccurredAt:        event.OccurredAt,
		ExpectedAmount:    event.ExpectedAmount,
		Difference:        event.Difference,
		DiscrepancyReason: event.DiscrepancyReason,
		AuthorizedBy:      event.AuthorizedBy,
		CorrelationId:     event.CorrelationId,
	}
}

// InsertLedgerEventReplica stores event in ledger_event_replicas. It reports false when
// a replica with the same EventUid already exists.
func InsertLedgerEventReplica(tx *gorm.DB, event *LedgerEvent) (bool, error) {
	result := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_uid"}},
		DoNothing: true,
	}).Create(NewLedgerEventReplica(event))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
