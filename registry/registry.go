// Package registry manages cash register records: numbering, operator assignment,
// and the active flag the ledger flips on open and close.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/sirupsen/logrus"
)

// Store is the register table. Lookups of a missing register return utils.ErrorRecordNotFound.
type Store interface {
	CreateCashRegister(ctx context.Context, register *models.CashRegister) error
	SaveCashRegister(ctx context.Context, register *models.CashRegister) error
	DeleteCashRegister(ctx context.Context, id int) (bool, error)
	GetCashRegister(ctx context.Context, id int) (*models.CashRegister, error)
	SetCashRegisterActive(ctx context.Context, id int, active bool) error
	RegisterNumberTaken(ctx context.Context, number string, exceptId int) (bool, error)
	ListCashRegisters(ctx context.Context, onlyAvailable bool) ([]*models.CashRegister, error)
}

type Registry struct {
	store  Store
	logger *logrus.Logger
}

func New(store Store, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Registry{store: store, logger: logger}
}

// validate fields for both create & update. (id = 0 for create)
func validateFields(ctx context.Context, store Store, id int, name string, number string) error {
	if strings.TrimSpace(name) == "" {
		return models.NewLedgerError(models.ErrorKindInvalidInput, id, "register name is required")
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return models.NewLedgerError(models.ErrorKindInvalidInput, id, "register number is required")
	}
	taken, err := store.RegisterNumberTaken(ctx, number, id)
	if err != nil {
		return err
	}
	if taken {
		return models.NewLedgerError(models.ErrorKindDuplicateRegisterNumber, id, "register number %q is already in use", number)
	}
	return nil
}

func (r *Registry) CreateRegister(ctx context.Context, input *models.NewCashRegister) (*models.CashRegister, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := validateFields(ctx, r.store, 0, input.Name, input.RegisterNumber); err != nil {
		return nil, err
	}

	isActive := utils.NewFalse()
	if input.IsActive != nil {
		v := *input.IsActive
		isActive = &v
	}
	register := models.CashRegister{
		BusinessId:     businessId,
		Name:           strings.TrimSpace(input.Name),
		RegisterNumber: strings.TrimSpace(input.RegisterNumber),
		IsActive:       isActive,
	}
	if err := r.store.CreateCashRegister(ctx, &register); err != nil {
		return nil, err
	}
	return &register, nil
}

// UpdateRegister applies only the fields set in input. An explicit IsActive=false is kept.
func (r *Registry) UpdateRegister(ctx context.Context, id int, input *models.UpdateCashRegister) (*models.CashRegister, error) {
	register, err := r.GetRegister(ctx, id)
	if err != nil {
		return nil, err
	}

	name := register.Name
	if input.Name != nil {
		name = strings.TrimSpace(*input.Name)
	}
	number := register.RegisterNumber
	if input.RegisterNumber != nil {
		number = strings.TrimSpace(*input.RegisterNumber)
	}
	if err := validateFields(ctx, r.store, id, name, number); err != nil {
		return nil, err
	}

	register.Name = name
	register.RegisterNumber = number
	if input.IsActive != nil {
		v := *input.IsActive
		register.IsActive = &v
	}
	if err := r.store.SaveCashRegister(ctx, register); err != nil {
		return nil, err
	}
	return register, nil
}

// DeleteRegister unassigns the operator first. Deleting a missing register reports false.
func (r *Registry) DeleteRegister(ctx context.Context, id int) (bool, error) {
	register, err := r.store.GetCashRegister(ctx, id)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if register.IsAssigned() {
		if _, err := r.UnassignOperator(ctx, id); err != nil {
			return false, fmt.Errorf("unassign before delete: %w", err)
		}
	}
	deleted, err := r.store.DeleteCashRegister(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		r.logger.WithFields(logrus.Fields{
			"field":           "registry",
			"register_id":     id,
			"register_number": register.RegisterNumber,
		}).Info("register deleted")
	}
	return deleted, nil
}

// AssignOperator is idempotent for the operator already holding the register.
func (r *Registry) AssignOperator(ctx context.Context, registerId int, operatorId string, operatorName string) (*models.CashRegister, error) {
	operatorId = strings.TrimSpace(operatorId)
	if operatorId == "" {
		return nil, models.NewLedgerError(models.ErrorKindInvalidInput, registerId, "operator id is required")
	}
	register, err := r.GetRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if register.IsAssigned() {
		if *register.OperatorId == operatorId {
			return register, nil
		}
		return nil, models.NewLedgerError(models.ErrorKindAlreadyAssigned, registerId,
			"register %d is assigned to operator %s", registerId, *register.OperatorId)
	}

	register.OperatorId = &operatorId
	register.OperatorName = &operatorName
	if err := r.store.SaveCashRegister(ctx, register); err != nil {
		return nil, err
	}
	return register, nil
}

// UnassignOperator is a no-op on an unassigned register.
func (r *Registry) UnassignOperator(ctx context.Context, registerId int) (*models.CashRegister, error) {
	register, err := r.GetRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if !register.IsAssigned() {
		return register, nil
	}
	register.OperatorId = nil
	register.OperatorName = nil
	if err := r.store.SaveCashRegister(ctx, register); err != nil {
		return nil, err
	}
	return register, nil
}

func (r *Registry) ListAvailable(ctx context.Context) ([]*models.CashRegister, error) {
	return r.store.ListCashRegisters(ctx, true)
}

func (r *Registry) ListRegisters(ctx context.Context) ([]*models.CashRegister, error) {
	return r.store.ListCashRegisters(ctx, false)
}

func (r *Registry) GetRegister(ctx context.Context, id int) (*models.CashRegister, error) {
	register, err := r.store.GetCashRegister(ctx, id)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, registerNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return register, nil
}

func (r *Registry) SetRegisterActive(ctx context.Context, id int, active bool) error {
	err := r.store.SetCashRegisterActive(ctx, id, active)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return registerNotFound(id)
	}
	return err
}

func registerNotFound(id int) error {
	return models.NewLedgerError(models.ErrorKindRegisterNotFound, id, "register %d does not exist", id)
}
