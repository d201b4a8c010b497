package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const LedgerSyncHandlerName = "LedgerSync"

// ErrInvalidLedgerSync marks a message that can never be applied. Consumers ack it
// instead of asking for redelivery.
var ErrInvalidLedgerSync = errors.New("invalid ledger sync message")

// DecodeLedgerSync validates msg and returns the event it carries.
func DecodeLedgerSync(msg config.LedgerSyncMessage) (*models.LedgerEvent, error) {
	if msg.BusinessId == "" || msg.EventUid == "" || msg.RegisterId <= 0 || len(msg.Event) == 0 {
		return nil, fmt.Errorf("%w: business_id, register_id, event_uid and event are required", ErrInvalidLedgerSync)
	}
	var ev models.LedgerEvent
	if err := json.Unmarshal(msg.Event, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLedgerSync, err)
	}
	if ev.EventUid != msg.EventUid || ev.BusinessId != msg.BusinessId || ev.RegisterId != msg.RegisterId {
		return nil, fmt.Errorf("%w: envelope does not match event %s", ErrInvalidLedgerSync, ev.EventUid)
	}
	if msg.Kind != "" && msg.Kind != string(ev.Kind) {
		return nil, fmt.Errorf("%w: envelope kind %q does not match event kind %q", ErrInvalidLedgerSync, msg.Kind, ev.Kind)
	}
	switch {
	case !ev.Kind.IsValid():
		return nil, fmt.Errorf("%w: event %s has no valid kind", ErrInvalidLedgerSync, ev.EventUid)
	case ev.Amount.IsNegative():
		return nil, fmt.Errorf("%w: event %s has negative amount %s", ErrInvalidLedgerSync, ev.EventUid, ev.Amount)
	case strings.TrimSpace(ev.OperatorId) == "":
		return nil, fmt.Errorf("%w: event %s has no operator", ErrInvalidLedgerSync, ev.EventUid)
	case ev.OccurredAt.IsZero():
		return nil, fmt.Errorf("%w: event %s has no occurred_at", ErrInvalidLedgerSync, ev.EventUid)
	}
	return &ev, nil
}

// ReplicaWriter stores a replicated event at most once per message id. Replicas are
// kept out of the local ledger_events log.
type ReplicaWriter interface {
	ApplyReplica(ctx context.Context, businessId string, messageId string, event *models.LedgerEvent) (bool, error)
}

type GormReplicaWriter struct {
	DB *gorm.DB
}

func (w *GormReplicaWriter) ApplyReplica(ctx context.Context, businessId string, messageId string, event *models.LedgerEvent) (bool, error) {
	inserted := false
	err := w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip, err := BeginIdempotency(tx, businessId, LedgerSyncHandlerName, messageId)
		if err != nil || skip {
			return err
		}
		inserted, err = models.InsertLedgerEventReplica(tx, event)
		if err != nil {
			return err
		}
		return MarkIdempotencySucceeded(tx, businessId, LedgerSyncHandlerName, messageId)
	})
	return inserted, err
}

// LedgerSyncApplier is the consumer side of the ledger outbox.
type LedgerSyncApplier struct {
	Writer ReplicaWriter
	Lock   *redislock.Client
	Logger *logrus.Logger
}

// Apply stores the event carried by msg. Replays of the same event are no-ops.
func (a *LedgerSyncApplier) Apply(ctx context.Context, msg config.LedgerSyncMessage) error {
	ev, err := DecodeLedgerSync(msg)
	if err != nil {
		return err
	}

	// Best-effort per-register serialization; the unique event uid keeps replays safe without it.
	if a.Lock != nil {
		lockKey := fmt.Sprintf("lock:ledger:%s:%d", msg.BusinessId, msg.RegisterId)
		lock, lockErr := a.Lock.Obtain(ctx, lockKey, 30*time.Second, nil)
		if lockErr != nil {
			a.log(msg).Warn("could not obtain redis lock; proceeding without redis lock: " + lockErr.Error())
		} else {
			defer func() {
				if releaseErr := lock.Release(ctx); releaseErr != nil {
					a.log(msg).Warn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
		}
	}

	ctx = utils.SetBusinessIdInContext(ctx, msg.BusinessId)
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	if msg.CorrelationId != "" {
		ctx = utils.SetCorrelationIdInContext(ctx, msg.CorrelationId)
	}
	inserted, err := a.Writer.ApplyReplica(ctx, msg.BusinessId, msg.EventUid, ev)
	if err != nil {
		return err
	}
	if inserted {
		a.log(msg).Info("replicated ledger event applied")
	} else {
		a.log(msg).Debug("replicated ledger event already present")
	}
	return nil
}

func (a *LedgerSyncApplier) log(msg config.LedgerSyncMessage) *logrus.Entry {
	logger := a.Logger
	if logger == nil {
		logger = config.GetLogger()
	}
	return logger.WithFields(logrus.Fields{
		"field":          "LedgerSync",
		"business_id":    msg.BusinessId,
		"register_id":    msg.RegisterId,
		"event_uid":      msg.EventUid,
		"kind":           msg.Kind,
		"correlation_id": msg.CorrelationId,
	})
}
