package salesync

import (
	"context"

	"github.com/mmdatafocus/cashier_backend/config"
)

// RedisCursors keeps cursors under SalesSyncCursor:<business>. No expiry.
type RedisCursors struct{}

func (RedisCursors) LoadCursor(ctx context.Context, businessId string) (CursorEntry, error) {
	var cursor CursorEntry
	if _, err := config.GetRedisObject(ctx, cursorKey(businessId), &cursor); err != nil {
		return CursorEntry{}, err
	}
	return cursor, nil
}

func (RedisCursors) SaveCursor(ctx context.Context, businessId string, cursor CursorEntry) error {
	return config.SetRedisObject(ctx, cursorKey(businessId), cursor, 0)
}

func cursorKey(businessId string) string {
	return "SalesSyncCursor:" + businessId
}
