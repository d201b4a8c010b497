package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/cashier_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerOutboxRecord queues one appended ledger event for delivery to the remote store.
// Lifecycle: PENDING -> IN_FLIGHT -> ACKNOWLEDGED, with FAILED (retry scheduled) and DEAD.
type LedgerOutboxRecord struct {
	ID             int        `gorm:"primary_key;index:idx_ledger_outbox_dispatch,priority:3" json:"id"`
	BusinessId     string     `gorm:"size:64;not null;index" json:"business_id"`
	RegisterId     int        `gorm:"index;not null" json:"register_id"`
	EventUid       string     `gorm:"size:36;uniqueIndex;not null" json:"event_uid"`
	EventKind      string     `gorm:"size:20;not null" json:"event_kind"`
	OccurredAt     time.Time  `gorm:"not null" json:"occurred_at"`
	Payload        []byte     `gorm:"type:blob" json:"payload"`
	Status         string     `gorm:"size:20;not null;default:'PENDING';index:idx_ledger_outbox_dispatch,priority:1" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt  *time.Time `gorm:"index:idx_ledger_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt       *time.Time `gorm:"index" json:"locked_at"`
	LockedBy       *string    `gorm:"size:100" json:"locked_by"`
	LastError      *string    `gorm:"type:text" json:"last_error"`
	RemoteId       *string    `gorm:"size:255" json:"remote_id"`
	AcknowledgedAt *time.Time `gorm:"index" json:"acknowledged_at"`
	CorrelationId  string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func NewLedgerOutboxRecord(event *LedgerEvent) (*LedgerOutboxRecord, error) {
	payload, err := event.MarshalSnapshot()
	if err != nil {
		return nil, fmt.Errorf("marshal ledger event: %w", err)
	}
	now := time.Now().UTC()
	return &LedgerOutboxRecord{
		BusinessId:    event.BusinessId,
		RegisterId:    event.RegisterId,
		EventUid:      event.EventUid,
		EventKind:     string(event.Kind),
		OccurredAt:    event.OccurredAt,
		Payload:       payload,
		Status:        LedgerOutboxStatusPending,
		NextAttemptAt: &now,
		CorrelationId: event.CorrelationId,
	}, nil
}

func (r *LedgerOutboxRecord) SyncMessage() config.LedgerSyncMessage {
	return config.LedgerSyncMessage{
		OutboxId:      r.ID,
		BusinessId:    r.BusinessId,
		RegisterId:    r.RegisterId,
		EventUid:      r.EventUid,
		Kind:          r.EventKind,
		OccurredAt:    r.OccurredAt,
		Event:         r.Payload,
		CorrelationId: r.CorrelationId,
	}
}

// LedgerOutboxStore is the gorm side of the outbox dispatcher.
type LedgerOutboxStore struct {
	db *gorm.DB
}

func NewLedgerOutboxStore(db *gorm.DB) *LedgerOutboxStore {
	return &LedgerOutboxStore{db: db}
}

// ClaimBatch moves up to limit due rows to IN_FLIGHT for workerId. Rows stuck
// IN_FLIGHT since before staleBefore are reclaimed. Concurrent dispatchers skip
// each other's rows via SKIP LOCKED.
func (s *LedgerOutboxStore) ClaimBatch(ctx context.Context, workerId string, now time.Time, staleBefore time.Time, limit int) ([]*LedgerOutboxRecord, error) {
	var claimed []*LedgerOutboxRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []*LedgerOutboxRecord
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(
				tx.Where("status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
					[]string{LedgerOutboxStatusPending, LedgerOutboxStatusFailed}, now).
					Or("status = ? AND locked_at < ?", LedgerOutboxStatusInFlight, staleBefore),
			).
			Order("id").
			Limit(limit)
		if err := q.Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		if err := tx.Model(&LedgerOutboxRecord{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    LedgerOutboxStatusInFlight,
				"locked_at": now,
				"locked_by": workerId,
			}).Error; err != nil {
			return err
		}
		for _, r := range rows {
			r.Status = LedgerOutboxStatusInFlight
			t := now
			r.LockedAt = &t
			w := workerId
			r.LockedBy = &w
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (s *LedgerOutboxStore) MarkAcknowledged(ctx context.Context, id int, workerId string, remoteId string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&LedgerOutboxRecord{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, LedgerOutboxStatusInFlight, workerId).
		Updates(map[string]interface{}{
			"status":          LedgerOutboxStatusAcknowledged,
			"acknowledged_at": at,
			"remote_id":       remoteId,
			"locked_at":       nil,
			"locked_by":       nil,
			"last_error":      nil,
		}).Error
}

// MarkFailed records a failed attempt. dead=true parks the row in DEAD.
func (s *LedgerOutboxStore) MarkFailed(ctx context.Context, id int, workerId string, attempts int, nextAttemptAt time.Time, dead bool, lastErr string) error {
	status := LedgerOutboxStatusFailed
	if dead {
		status = LedgerOutboxStatusDead
	}
	return s.db.WithContext(ctx).
		Model(&LedgerOutboxRecord{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, LedgerOutboxStatusInFlight, workerId).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"locked_at":       nil,
			"locked_by":       nil,
			"last_error":      lastErr,
		}).Error
}

var ErrOutboxRecordNotReplayable = errors.New("outbox record is not FAILED or DEAD")

// Requeue moves a FAILED or DEAD row back to PENDING for immediate dispatch.
// id = 0 requeues every DEAD row of the business.
func (s *LedgerOutboxStore) Requeue(ctx context.Context, businessId string, id int) (int64, error) {
	now := time.Now().UTC()
	q := s.db.WithContext(ctx).Model(&LedgerOutboxRecord{}).Where("business_id = ?", businessId)
	if id > 0 {
		q = q.Where("id = ? AND status IN ?", id, []string{LedgerOutboxStatusFailed, LedgerOutboxStatusDead})
	} else {
		q = q.Where("status = ?", LedgerOutboxStatusDead)
	}
	result := q.Updates(map[string]interface{}{
		"status":          LedgerOutboxStatusPending,
		"attempts":        0,
		"next_attempt_at": now,
		"locked_at":       nil,
		"locked_by":       nil,
		"last_error":      nil,
	})
	if result.Error != nil {
		return 0, result.Error
	}
	if id > 0 && result.RowsAffected == 0 {
		return 0, ErrOutboxRecordNotReplayable
	}
	return result.RowsAffected, nil
}

// CountByStatus feeds the outbox backlog gauge.
func (s *LedgerOutboxStore) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&LedgerOutboxRecord{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}
