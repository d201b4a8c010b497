// Package authgate resolves supervisor credentials to the name recorded as the
// authorizer of a short close.
package authgate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/sirupsen/logrus"
)

var (
	ErrUnauthorized      = errors.New("supervisor code or pin is incorrect")
	ErrDuplicateCode     = errors.New("supervisor code already exists")
	ErrInvalidSupervisor = errors.New("invalid supervisor")
)

const minPinLength = 4

type Store interface {
	CreateSupervisor(ctx context.Context, supervisor *models.Supervisor) error
	GetSupervisorByCode(ctx context.Context, businessId string, code string) (*models.Supervisor, error)
}

type NewSupervisor struct {
	Code  string `json:"code" binding:"required,max=50"`
	Name  string `json:"name" binding:"required,max=100"`
	Phone string `json:"phone"`
	Pin   string `json:"pin" binding:"required,min=4,max=12"`
}

type Gate struct {
	store  Store
	logger *logrus.Logger
}

func New(store Store, logger *logrus.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

func (g *Gate) RegisterSupervisor(ctx context.Context, input *NewSupervisor) (*models.Supervisor, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, fmt.Errorf("%w: business id is required", ErrInvalidSupervisor)
	}
	code := strings.TrimSpace(input.Code)
	name := strings.TrimSpace(input.Name)
	if code == "" || name == "" {
		return nil, fmt.Errorf("%w: code and name are required", ErrInvalidSupervisor)
	}
	if len(input.Pin) < minPinLength {
		return nil, fmt.Errorf("%w: pin must have at least %d characters", ErrInvalidSupervisor, minPinLength)
	}

	phone := strings.TrimSpace(input.Phone)
	if phone != "" {
		normalized, err := utils.NormalizePhoneNumber(phone)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSupervisor, err)
		}
		phone = normalized
	}

	existing, err := g.store.GetSupervisorByCode(ctx, businessId, code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateCode
	}

	hash, err := utils.HashPassword(input.Pin)
	if err != nil {
		return nil, err
	}
	supervisor := &models.Supervisor{
		BusinessId: businessId,
		Code:       code,
		Name:       name,
		Phone:      phone,
		PinHash:    string(hash),
		IsActive:   utils.NewTrue(),
	}
	if err := g.store.CreateSupervisor(ctx, supervisor); err != nil {
		if utils.IsDuplicateKeyError(err) {
			return nil, ErrDuplicateCode
		}
		return nil, err
	}
	return supervisor, nil
}

// Authorize checks a supervisor's PIN and returns the supervisor's name.
func (g *Gate) Authorize(ctx context.Context, code string, pin string) (string, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	supervisor, err := g.store.GetSupervisorByCode(ctx, businessId, strings.TrimSpace(code))
	if err != nil {
		return "", err
	}
	if supervisor == nil || (supervisor.IsActive != nil && !*supervisor.IsActive) {
		return "", ErrUnauthorized
	}
	if err := utils.ComparePassword(supervisor.PinHash, pin); err != nil {
		if g.logger != nil {
			g.logger.WithFields(logrus.Fields{
				"field":       "authgate",
				"business_id": businessId,
				"code":        supervisor.Code,
			}).Warn("supervisor pin rejected")
		}
		return "", ErrUnauthorized
	}
	return supervisor.Name, nil
}
