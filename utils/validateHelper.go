package utils

import (
	"context"
	"errors"
	"reflect"

	"gorm.io/gorm"
)

// check if id exists, scoped by business_id when given; returns ErrorRecordNotFound
func ValidateResourceId[T any](ctx context.Context, db *gorm.DB, businessId string, id interface{}) error {
	count, err := ResourceCountWhere[T](ctx, db, businessId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

var ErrorDuplicate = errors.New("duplicate value")

// ValidateUnique fails with ErrorDuplicate when another row (other than exceptId) already holds value.
// Soft-deleted rows are excluded by gorm's default scope.
func ValidateUnique[T any](ctx context.Context, db *gorm.DB, businessId string, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if exceptId == nil || reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, db, businessId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, db, businessId, column+" = ? AND NOT id = ?", value, exceptId)
	}
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrorDuplicate
	}
	return nil
}

// count records, using WHERE business_id = ? AND $condition
// business_id can be blank for internal callers
func ResourceCountWhere[T any](ctx context.Context, db *gorm.DB, businessId string, condition string, value ...interface{}) (int64, error) {
	var model T

	dbCtx := db.WithContext(ctx).Model(&model)
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	dbCtx = dbCtx.Where(condition, value...)
	var count int64
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
