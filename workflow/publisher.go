package workflow

import (
	"context"

	"github.com/mmdatafocus/cashier_backend/config"
)

// PubSubPublisher sends ledger events to the LEDGER_SYNC_TOPIC topic.
type PubSubPublisher struct{}

func (PubSubPublisher) Publish(ctx context.Context, msg config.LedgerSyncMessage) (string, error) {
	return config.PublishLedgerSync(ctx, msg)
}

// DirectPublisher applies events in-process. Used when OUTBOX_DIRECT_PROCESSING=true,
// where this instance also keeps the replica table.
type DirectPublisher struct {
	Applier *LedgerSyncApplier
}

func (p DirectPublisher) Publish(ctx context.Context, msg config.LedgerSyncMessage) (string, error) {
	if err := p.Applier.Apply(ctx, msg); err != nil {
		return "", err
	}
	return "direct:" + msg.EventUid, nil
}
