package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// fetch model from db
// (business_id is used in query's WHERE when given, may return RecordNotFound)
func FetchModel[T any](ctx context.Context, db *gorm.DB, businessId string, id int, associations ...string) (*T, error) {
	dbCtx := db.WithContext(ctx)
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	err := dbCtx.First(&result, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}
