package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PosSale is a completed till sale pulled from the POS. Only its tender matters to the ledger.
type PosSale struct {
	ID            int              `gorm:"primary_key" json:"id"`
	BusinessId    string           `gorm:"size:64;index;not null;uniqueIndex:uniq_pos_sale_external,priority:1" json:"business_id"`
	ExternalId    string           `gorm:"size:100;not null;uniqueIndex:uniq_pos_sale_external,priority:2" json:"external_id"`
	RegisterId    int              `gorm:"index:idx_pos_sale_register_time,priority:1;not null" json:"register_id"`
	SaleNumber    string           `gorm:"size:100" json:"sale_number"`
	Status        PosSaleStatus    `gorm:"size:20;not null" json:"status"`
	PaymentMethod PaymentMethod    `gorm:"size:20;not null" json:"payment_method"`
	TotalAmount   decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	CompletedAt   time.Time        `gorm:"index:idx_pos_sale_register_time,priority:2;not null" json:"completed_at"`
	Payments      []PosSalePayment `gorm:"foreignKey:PosSaleId" json:"payments"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// PosSalePayment is one tender line of a mixed-tender sale.
type PosSalePayment struct {
	ID        int             `gorm:"primary_key" json:"id"`
	PosSaleId int             `gorm:"index;not null" json:"pos_sale_id"`
	Method    PaymentMethod   `gorm:"size:20;not null" json:"method"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
}

// CashTender is the cash-settled part of the sale: the full total for a cash sale,
// the cash lines of a mixed sale, zero otherwise. Voided sales settle nothing.
func (s *PosSale) CashTender() decimal.Decimal {
	if s.Status != PosSaleStatusCompleted {
		return decimal.Zero
	}
	switch s.PaymentMethod {
	case PaymentMethodCash:
		return s.TotalAmount
	case PaymentMethodMixed:
		total := decimal.Zero
		for _, p := range s.Payments {
			if p.Method == PaymentMethodCash {
				total = total.Add(p.Amount)
			}
		}
		return total
	}
	return decimal.Zero
}

var ErrorPosSaleUpsertLost = errors.New("pos sale not found after upsert")

// PosSaleFeed reads completed sales from the local pos_sales table.
type PosSaleFeed struct {
	db *gorm.DB
}

func NewPosSaleFeed(db *gorm.DB) *PosSaleFeed {
	return &PosSaleFeed{db: db}
}

func (f *PosSaleFeed) ListSalesSince(ctx context.Context, registerId int, since time.Time) ([]*PosSale, error) {
	var sales []*PosSale
	err := f.db.WithContext(ctx).
		Preload("Payments").
		Where("register_id = ? AND status = ? AND completed_at >= ?", registerId, PosSaleStatusCompleted, since).
		Order("completed_at, id").
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}

// UpsertPosSale inserts or refreshes a sale by (business_id, external_id) and
// replaces its payment lines.
func (f *PosSaleFeed) UpsertPosSale(ctx context.Context, sale *PosSale) error {
	return f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payments := sale.Payments
		sale.Payments = nil
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"register_id", "sale_number", "status", "payment_method", "total_amount", "completed_at", "updated_at"}),
		}).Create(sale).Error; err != nil {
			return err
		}
		// The insert id is unreliable when the upsert took the update path.
		var ids []int
		if err := tx.Model(&PosSale{}).
			Where("business_id = ? AND external_id = ?", sale.BusinessId, sale.ExternalId).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return ErrorPosSaleUpsertLost
		}
		sale.ID = ids[0]
		if err := tx.Where("pos_sale_id = ?", sale.ID).Delete(&PosSalePayment{}).Error; err != nil {
			return err
		}
		for i := range payments {
			payments[i].ID = 0
			payments[i].PosSaleId = sale.ID
		}
		if len(payments) > 0 {
			if err := tx.Create(&payments).Error; err != nil {
				return err
			}
		}
		sale.Payments = payments
		return nil
	})
}
