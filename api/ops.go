package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/mmdatafocus/cashier_backend/workflow"
	"github.com/sirupsen/logrus"
)

// PubSubMessage is the push envelope Pub/Sub posts to subscribers.
type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type LedgerSyncApplier interface {
	Apply(ctx context.Context, msg config.LedgerSyncMessage) error
}

// LedgerSyncPushHandler consumes ledger events pushed from other instances.
// Poisoned messages are acked with 204 so Pub/Sub stops redelivering them;
// any other failure is a 500 and gets retried.
func LedgerSyncPushHandler(applier LedgerSyncApplier, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var envelope PubSubMessage

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "ops.go", "LedgerSyncPushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		// byte slice unmarshalling handles base64 decoding.
		if err := json.Unmarshal(body, &envelope); err != nil {
			config.LogError(logger, "ops.go", "LedgerSyncPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}
		var msg config.LedgerSyncMessage
		if err := json.Unmarshal(envelope.Message.Data, &msg); err != nil {
			config.LogError(logger, "ops.go", "LedgerSyncPushHandler", "Unmarshal pubsub message", string(envelope.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if msg.CorrelationId == "" {
			msg.CorrelationId = envelope.Message.ID
		}

		if err := applier.Apply(c.Request.Context(), msg); err != nil {
			if errors.Is(err, workflow.ErrInvalidLedgerSync) {
				config.LogError(logger, "ops.go", "LedgerSyncPushHandler", "Invalid ledger sync message", msg.EventUid, err)
				c.Status(http.StatusNoContent)
				return
			}
			logger.WithFields(logrus.Fields{
				"field":       "LedgerSyncPushHandler",
				"business_id": msg.BusinessId,
				"register_id": msg.RegisterId,
				"event_uid":   msg.EventUid,
				"message_id":  envelope.Message.ID,
			}).Error("ledger sync apply failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type OutboxRequeuer interface {
	Requeue(ctx context.Context, businessId string, id int) (int64, error)
}

type outboxReplayRequest struct {
	RecordId int `json:"record_id" binding:"min=0"`
}

// OutboxReplayHandler moves FAILED or DEAD outbox rows of the caller's business back
// to PENDING. record_id 0 requeues every DEAD row.
func OutboxReplayHandler(outbox OutboxRequeuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		var req outboxReplayRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		requeued, err := outbox.Requeue(c.Request.Context(), businessId, req.RecordId)
		if errors.Is(err, models.ErrOutboxRecordNotReplayable) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			writeError(c, err)
			return
		}
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"business_id":    businessId,
			"record_id":      req.RecordId,
			"requeued":       requeued,
			"status":         models.LedgerOutboxStatusPending,
			"correlation_id": cid,
		})
	}
}
