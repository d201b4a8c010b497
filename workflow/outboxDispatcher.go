package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/sirupsen/logrus"
)

// OutboxRepository is the persistence side of the dispatcher.
// models.LedgerOutboxStore is the production implementation.
type OutboxRepository interface {
	ClaimBatch(ctx context.Context, workerId string, now time.Time, staleBefore time.Time, limit int) ([]*models.LedgerOutboxRecord, error)
	MarkAcknowledged(ctx context.Context, id int, workerId string, remoteId string, at time.Time) error
	MarkFailed(ctx context.Context, id int, workerId string, attempts int, nextAttemptAt time.Time, dead bool, lastErr string) error
}

// Publisher delivers one ledger event to the remote store and returns its remote id.
type Publisher interface {
	Publish(ctx context.Context, msg config.LedgerSyncMessage) (string, error)
}

type OutboxDispatcher struct {
	Repo         OutboxRepository
	Publisher    Publisher
	Logger       *logrus.Logger
	Metrics      *OutboxMetrics
	DispatcherID string
	Now          func() time.Time

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewOutboxDispatcher(repo OutboxRepository, publisher Publisher, logger *logrus.Logger) *OutboxDispatcher {
	cfg := GetOutboxRetryConfig()
	return &OutboxDispatcher{
		Repo:           repo,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Now:            func() time.Time { return time.Now().UTC() },
		BatchSize:      cfg.BatchSize,
		PollInterval:   cfg.PollInterval,
		LockTimeout:    cfg.LockTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := d.DispatchOnce(ctx); err != nil && ctx.Err() == nil {
			config.LogError(d.Logger, "outboxDispatcher.go", "Run", "Claiming ledger outbox batch", d.DispatcherID, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch and publishes it. It returns how many records were
// acknowledged.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	if d.Repo == nil || d.Publisher == nil {
		return 0, nil
	}
	now := d.Now()
	claimed, err := d.Repo.ClaimBatch(ctx, d.DispatcherID, now, now.Add(-d.LockTimeout), d.BatchSize)
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, rec := range claimed {
		attempt := rec.Attempts + 1
		remoteId, pubErr := d.Publisher.Publish(ctx, rec.SyncMessage())
		if pubErr != nil {
			d.markPublishFailed(ctx, rec, pubErr, attempt)
			continue
		}
		if err := d.Repo.MarkAcknowledged(ctx, rec.ID, d.DispatcherID, remoteId, d.Now()); err != nil {
			// The row stays IN_FLIGHT and is reclaimed after LockTimeout; the consumer
			// drops the duplicate by event uid.
			config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "Marking outbox record acknowledged", rec.ID, err)
			continue
		}
		d.Metrics.published("acknowledged")
		acked++
	}
	return acked, nil
}

func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec *models.LedgerOutboxRecord, err error, attempt int) {
	now := d.Now()
	dead := d.MaxAttempts > 0 && attempt >= d.MaxAttempts
	next := now
	if !dead {
		next = now.Add(OutboxBackoff(attempt, d.InitialBackoff, d.MaxBackoff))
	}
	if markErr := d.Repo.MarkFailed(ctx, rec.ID, d.DispatcherID, attempt, next, dead, err.Error()); markErr != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "markPublishFailed", "Marking outbox record failed", rec.ID, markErr)
	}

	if dead {
		d.Metrics.published("dead")
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":       "OutboxDispatcher",
				"business_id": rec.BusinessId,
				"register_id": rec.RegisterId,
				"record_id":   rec.ID,
				"event_uid":   rec.EventUid,
				"attempt":     attempt,
			}).Error("ledger outbox record moved to DEAD after max attempts: " + fmt.Sprintf("%v", err))
		}
		return
	}

	d.Metrics.published("failed")
	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "OutboxDispatcher",
			"business_id":     rec.BusinessId,
			"register_id":     rec.RegisterId,
			"record_id":       rec.ID,
			"event_uid":       rec.EventUid,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Warn("ledger outbox publish failed: " + fmt.Sprintf("%v", err))
	}
}
