package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/cashier_backend/utils"
	"gorm.io/gorm"
)

// CashRegister is a physical cash drawer. It exists independently of any operator.
//
// RegisterNumber is unique among live registers of a business. Soft-deleted numbers
// may be reused, so there is no unique index; RegisterNumberTaken checks before each
// write and two concurrent creates with one number can both pass. Register writes are
// single-writer like the ledger.
type CashRegister struct {
	ID             int            `gorm:"primary_key" json:"id"`
	BusinessId     string         `gorm:"size:64;index;not null" json:"business_id"`
	Name           string         `gorm:"size:100;not null" json:"name"`
	RegisterNumber string         `gorm:"size:50;index;not null" json:"register_number"`
	IsActive       *bool          `gorm:"not null;default:false" json:"is_active"`
	OperatorId     *string        `gorm:"size:64;index" json:"operator_id"`
	OperatorName   *string        `gorm:"size:100" json:"operator_name"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

type NewCashRegister struct {
	Name           string `json:"name" binding:"required,max=100"`
	RegisterNumber string `json:"register_number" binding:"required,max=50"`
	IsActive       *bool  `json:"is_active"`
}

// UpdateCashRegister is a partial update; nil fields are left untouched.
type UpdateCashRegister struct {
	Name           *string `json:"name" binding:"omitempty,max=100"`
	RegisterNumber *string `json:"register_number" binding:"omitempty,max=50"`
	IsActive       *bool   `json:"is_active"`
}

func (r *CashRegister) IsAssigned() bool {
	return r.OperatorId != nil && *r.OperatorId != ""
}

func (r *CashRegister) Active() bool {
	return r.IsActive != nil && *r.IsActive
}

// CashRegisterStore is the gorm-backed register table.
type CashRegisterStore struct {
	db *gorm.DB
}

func NewCashRegisterStore(db *gorm.DB) *CashRegisterStore {
	return &CashRegisterStore{db: db}
}

func (s *CashRegisterStore) CreateCashRegister(ctx context.Context, register *CashRegister) error {
	return s.db.WithContext(ctx).Create(register).Error
}

// SaveCashRegister writes every column, so an explicit false/nil is persisted as-is.
func (s *CashRegisterStore) SaveCashRegister(ctx context.Context, register *CashRegister) error {
	return s.db.WithContext(ctx).Save(register).Error
}

func (s *CashRegisterStore) DeleteCashRegister(ctx context.Context, id int) (bool, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	dbCtx := s.db.WithContext(ctx)
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	result := dbCtx.Delete(&CashRegister{}, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *CashRegisterStore) GetCashRegister(ctx context.Context, id int) (*CashRegister, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return utils.FetchModel[CashRegister](ctx, s.db, businessId, id)
}

func (s *CashRegisterStore) SetCashRegisterActive(ctx context.Context, id int, active bool) error {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	dbCtx := s.db.WithContext(ctx).Model(&CashRegister{}).Where("id = ?", id)
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	result := dbCtx.Update("is_active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL reports 0 rows when the value is unchanged, so confirm existence.
		if err := utils.ValidateResourceId[CashRegister](ctx, s.db, businessId, id); err != nil {
			return err
		}
	}
	return nil
}

// RegisterNumberTaken reports whether another live register already uses number.
func (s *CashRegisterStore) RegisterNumberTaken(ctx context.Context, number string, exceptId int) (bool, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	err := utils.ValidateUnique[CashRegister](ctx, s.db, businessId, "register_number", strings.TrimSpace(number), exceptId)
	if errors.Is(err, utils.ErrorDuplicate) {
		return true, nil
	}
	return false, err
}

func (s *CashRegisterStore) ListCashRegisters(ctx context.Context, onlyAvailable bool) ([]*CashRegister, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	dbCtx := s.db.WithContext(ctx)
	if businessId != "" {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	}
	if onlyAvailable {
		dbCtx = dbCtx.Where("operator_id IS NULL OR operator_id = ''")
	}
	var results []*CashRegister
	if err := dbCtx.Order("register_number").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// GetCashRegistersByIds backs the register dataloader.
func (s *CashRegisterStore) GetCashRegistersByIds(ctx context.Context, ids []int) ([]*CashRegister, error) {
	var results []*CashRegister
	err := s.db.WithContext(ctx).Unscoped().Where("id IN ?", ids).Find(&results).Error
	return results, err
}
