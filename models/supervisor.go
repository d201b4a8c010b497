package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Supervisor can approve a short close. Only the bcrypt hash of the PIN is stored.
type Supervisor struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"size:64;not null;uniqueIndex:uniq_supervisor_code,priority:1" json:"business_id"`
	Code       string    `gorm:"size:50;not null;uniqueIndex:uniq_supervisor_code,priority:2" json:"code"`
	Name       string    `gorm:"size:100;not null" json:"name"`
	Phone      string    `gorm:"size:20" json:"phone"`
	PinHash    string    `gorm:"size:100;not null" json:"-"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type SupervisorStore struct {
	db *gorm.DB
}

func NewSupervisorStore(db *gorm.DB) *SupervisorStore {
	return &SupervisorStore{db: db}
}

func (s *SupervisorStore) CreateSupervisor(ctx context.Context, supervisor *Supervisor) error {
	return s.db.WithContext(ctx).Create(supervisor).Error
}

// GetSupervisorByCode returns nil, nil when no supervisor has the code.
func (s *SupervisorStore) GetSupervisorByCode(ctx context.Context, businessId string, code string) (*Supervisor, error) {
	var rows []*Supervisor
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND code = ?", businessId, code).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}
