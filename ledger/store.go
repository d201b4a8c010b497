package ledger

import (
	"context"
	"time"

	"github.com/mmdatafocus/cashier_backend/models"
)

// EventStore is the append-only log the ledger replays. Implementations must never
// update or delete an appended event.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.LedgerEvent) error
	ListEvents(ctx context.Context, registerId int) ([]*models.LedgerEvent, error)
	ListEventsByOperator(ctx context.Context, operatorId string) ([]*models.LedgerEvent, error)
}

// LatestEventReader is implemented by stores that can return the newest event
// without listing the whole log.
type LatestEventReader interface {
	LatestEvent(ctx context.Context, registerId int) (*models.LedgerEvent, error)
}

// AppendMarkReader reports the highest local append id of a register's events, 0 for
// an empty log. Backdated events still raise it, so the replay cache keys on it.
type AppendMarkReader interface {
	LastAppendId(ctx context.Context, registerId int) (int, error)
}

// SalesFeed returns completed sales for a register at or after since.
type SalesFeed interface {
	ListSalesSince(ctx context.Context, registerId int, since time.Time) ([]*models.PosSale, error)
}

// Registers resolves registers and flips their active flag on open/close.
// A missing register must be reported as models.ErrRegisterNotFound.
type Registers interface {
	GetRegister(ctx context.Context, id int) (*models.CashRegister, error)
	SetRegisterActive(ctx context.Context, id int, active bool) error
}
