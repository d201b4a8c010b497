package models

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LedgerEvent is one immutable entry in a register's cash log.
// ID is the local append order; EventUid identifies the event across instances.
type LedgerEvent struct {
	ID                int              `gorm:"primary_key" json:"id"`
	EventUid          string           `gorm:"size:36;uniqueIndex;not null" json:"event_uid"`
	BusinessId        string           `gorm:"size:64;index;not null" json:"business_id"`
	RegisterId        int              `gorm:"index:idx_ledger_register_time,priority:1;not null" json:"register_id"`
	OperatorId        string           `gorm:"size:64;index;not null" json:"operator_id"`
	OperatorName      string           `gorm:"size:100" json:"operator_name"`
	Kind              LedgerEventKind  `gorm:"type:enum('Open','Close','Deposit','Withdrawal');not null" json:"kind"`
	Amount            decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"amount"`
	Reason            *string          `gorm:"type:text" json:"reason"`
	OccurredAt        time.Time        `gorm:"index:idx_ledger_register_time,priority:2;not null" json:"occurred_at"`
	ExpectedAmount    *decimal.Decimal `gorm:"type:decimal(20,4)" json:"expected_amount"`
	Difference        *decimal.Decimal `gorm:"type:decimal(20,4)" json:"difference"`
	DiscrepancyReason *string          `gorm:"type:text" json:"discrepancy_reason"`
	AuthorizedBy      *string          `gorm:"size:255" json:"authorized_by"`
	CorrelationId     string           `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// SortLedgerEvents orders events by OccurredAt, then by local append order.
func SortLedgerEvents(events []*LedgerEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].ID < events[j].ID
	})
}

// LedgerEventStore is the local durable event log. Every append also writes an
// outbox row in the same transaction; the outbox dispatcher forwards it upstream.
type LedgerEventStore struct {
	db *gorm.DB
}

func NewLedgerEventStore(db *gorm.DB) *LedgerEventStore {
	return &LedgerEventStore{db: db}
}

func (s *LedgerEventStore) AppendEvent(ctx context.Context, event *LedgerEvent) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return fmt.Errorf("insert ledger event: %w", err)
		}
		record, err := NewLedgerOutboxRecord(event)
		if err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("insert ledger outbox: %w", err)
		}
		return nil
	})
}

func (s *LedgerEventStore) ListEvents(ctx context.Context, registerId int) ([]*LedgerEvent, error) {
	var events []*LedgerEvent
	err := s.db.WithContext(ctx).
		Where("register_id = ?", registerId).
		Order("occurred_at, id").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *LedgerEventStore) ListEventsByOperator(ctx context.Context, operatorId string) ([]*LedgerEvent, error) {
	var events []*LedgerEvent
	err := s.db.WithContext(ctx).
		Where("operator_id = ?", operatorId).
		Order("occurred_at, id").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LatestEvent returns nil, nil when the register has no events.
func (s *LedgerEventStore) LatestEvent(ctx context.Context, registerId int) (*LedgerEvent, error) {
	var events []*LedgerEvent
	err := s.db.WithContext(ctx).
		Where("register_id = ?", registerId).
		Order("occurred_at DESC, id DESC").
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}

// LastAppendId is the highest local id among the register's events, 0 when it has none.
func (s *LedgerEventStore) LastAppendId(ctx context.Context, registerId int) (int, error) {
	var mark int
	err := s.db.WithContext(ctx).
		Model(&LedgerEvent{}).
		Where("register_id = ?", registerId).
		Select("COALESCE(MAX(id), 0)").
		Scan(&mark).Error
	if err != nil {
		return 0, err
	}
	return mark, nil
}

func (e *LedgerEvent) MarshalSnapshot() ([]byte, error) {
	return json.Marshal(e)
}
