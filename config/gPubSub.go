package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// LedgerSyncMessage is the wire form of one ledger outbox row. The HQ instance
// receives it on /pubsub/ledger-sync and keeps Event in its replica table.
type LedgerSyncMessage struct {
	OutboxId      int             `json:"outbox_id"`
	BusinessId    string          `json:"business_id"`
	RegisterId    int             `json:"register_id"`
	EventUid      string          `json:"event_uid"`
	Kind          string          `json:"kind"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Event         json.RawMessage `json:"event"`
	CorrelationId string          `json:"correlation_id"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex

	ledgerTopic *pubsub.Topic
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	return os.Getenv("GCP_PROJECT")
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()

			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}

		// Give up once the caller's deadline passes; the dispatcher retries the row later.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("pubsub client: %w", err)
		}
		sleep := RetrySleep(attempt)
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("pubsub client: %w", err)
		case <-time.After(sleep):
		}
	}
}

// PublishLedgerSync publishes one ledger event to LEDGER_SYNC_TOPIC and returns the
// server-assigned message ID. Messages for one register share an ordering key.
func PublishLedgerSync(ctx context.Context, msg LedgerSyncMessage) (string, error) {
	t, err := getLedgerTopic(ctx)
	if err != nil {
		return "", err
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := t.Publish(ctx, &pubsub.Message{
		Data:        msgJSON,
		OrderingKey: fmt.Sprintf("%s:%d", msg.BusinessId, msg.RegisterId),
		Attributes: map[string]string{
			"business_id":    msg.BusinessId,
			"event_uid":      msg.EventUid,
			"correlation_id": msg.CorrelationId,
		},
	})

	id, err := result.Get(ctx)
	if err != nil {
		// An ordering key pauses after a failed publish until resumed.
		t.ResumePublish(fmt.Sprintf("%s:%d", msg.BusinessId, msg.RegisterId))
	}
	return id, err
}

func getLedgerTopic(ctx context.Context) (*pubsub.Topic, error) {
	client, err := getPubSubClient(ctx)
	if err != nil {
		return nil, err
	}
	topicName := os.Getenv("LEDGER_SYNC_TOPIC")
	if topicName == "" {
		return nil, errors.New("LEDGER_SYNC_TOPIC is required")
	}

	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if ledgerTopic == nil {
		ledgerTopic = client.Topic(topicName)
		ledgerTopic.EnableMessageOrdering = true
	}
	return ledgerTopic, nil
}

// StopLedgerTopic flushes pending publishes. Called on shutdown.
func StopLedgerTopic() {
	pubsubClientMu.Lock()
	t := ledgerTopic
	ledgerTopic = nil
	pubsubClientMu.Unlock()
	if t != nil {
		t.Stop()
	}
}
