package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/mmdatafocus/cashier_backend/memstore"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
)

func newTestRegistry(t *testing.T) (*Registry, *memstore.RegisterStore, context.Context) {
	t.Helper()
	store := memstore.NewRegisterStore()
	ctx := utils.SetBusinessIdInContext(context.Background(), "biz-1")
	return New(store, nil), store, ctx
}

func mustCreate(t *testing.T, r *Registry, ctx context.Context, name, number string) *models.CashRegister {
	t.Helper()
	reg, err := r.CreateRegister(ctx, &models.NewCashRegister{Name: name, RegisterNumber: number})
	if err != nil {
		t.Fatalf("CreateRegister(%s): %v", number, err)
	}
	return reg
}

func TestCreateRegister_DuplicateNumberLeavesRegistryUnchanged(t *testing.T) {
	r, store, ctx := newTestRegistry(t)
	mustCreate(t, r, ctx, "Front till", "R-01")

	_, err := r.CreateRegister(ctx, &models.NewCashRegister{Name: "Back till", RegisterNumber: "R-01"})
	if !errors.Is(err, models.ErrDuplicateRegisterNumber) {
		t.Fatalf("expected DuplicateRegisterNumber, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 register after rejected create, got %d", store.Len())
	}
}

// No unique index backs register_number, so the pre-write check must see through padding.
func TestCreateRegister_PaddedNumberIsStillDuplicate(t *testing.T) {
	r, store, ctx := newTestRegistry(t)
	mustCreate(t, r, ctx, "Front till", "R-01")

	_, err := r.CreateRegister(ctx, &models.NewCashRegister{Name: "Back till", RegisterNumber: "  R-01 "})
	if !errors.Is(err, models.ErrDuplicateRegisterNumber) {
		t.Fatalf("expected DuplicateRegisterNumber, got %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 register, got %d", store.Len())
	}
}

func TestCreateRegister_RequiresBusinessAndFields(t *testing.T) {
	r, _, ctx := newTestRegistry(t)

	if _, err := r.CreateRegister(context.Background(), &models.NewCashRegister{Name: "x", RegisterNumber: "1"}); err == nil {
		t.Fatalf("expected error without business id")
	}
	_, err := r.CreateRegister(ctx, &models.NewCashRegister{Name: "x", RegisterNumber: "   "})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput for blank number, got %v", err)
	}
}

func TestCreateRegister_DefaultsInactiveAndStampsBusiness(t *testing.T) {
	r, _, ctx := newTestRegistry(t)
	reg := mustCreate(t, r, ctx, "Front till", " R-01 ")

	if reg.BusinessId != "biz-1" {
		t.Fatalf("business id = %q", reg.BusinessId)
	}
	if reg.RegisterNumber != "R-01" {
		t.Fatalf("register number not trimmed: %q", reg.RegisterNumber)
	}
	if reg.Active() {
		t.Fatalf("new register should start inactive")
	}
}

func TestUpdateRegister(t *testing.T) {
	r, _, ctx := newTestRegistry(t)
	a := mustCreate(t, r, ctx, "Front till", "R-01")
	b := mustCreate(t, r, ctx, "Back till", "R-02")

	t.Run("not found", func(t *testing.T) {
		_, err := r.UpdateRegister(ctx, 999, &models.UpdateCashRegister{Name: utils.NewString("x")})
		if !errors.Is(err, models.ErrRegisterNotFound) {
			t.Fatalf("expected RegisterNotFound, got %v", err)
		}
	})

	t.Run("collision with a different register", func(t *testing.T) {
		_, err := r.UpdateRegister(ctx, b.ID, &models.UpdateCashRegister{RegisterNumber: utils.NewString("R-01")})
		if !errors.Is(err, models.ErrDuplicateRegisterNumber) {
			t.Fatalf("expected DuplicateRegisterNumber, got %v", err)
		}
	})

	t.Run("keeping its own number is fine", func(t *testing.T) {
		got, err := r.UpdateRegister(ctx, a.ID, &models.UpdateCashRegister{
			Name:           utils.NewString("Front till 1"),
			RegisterNumber: utils.NewString("R-01"),
		})
		if err != nil {
			t.Fatalf("UpdateRegister: %v", err)
		}
		if got.Name != "Front till 1" {
			t.Fatalf("name = %q", got.Name)
		}
	})

	t.Run("explicit inactive is applied verbatim", func(t *testing.T) {
		if _, err := r.UpdateRegister(ctx, a.ID, &models.UpdateCashRegister{IsActive: utils.NewTrue()}); err != nil {
			t.Fatalf("activate: %v", err)
		}
		got, err := r.UpdateRegister(ctx, a.ID, &models.UpdateCashRegister{IsActive: utils.NewFalse()})
		if err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		if got.Active() {
			t.Fatalf("expected register to be inactive after explicit false")
		}
		got, err = r.UpdateRegister(ctx, a.ID, &models.UpdateCashRegister{Name: utils.NewString("Renamed")})
		if err != nil {
			t.Fatalf("rename: %v", err)
		}
		if got.Active() {
			t.Fatalf("partial update without is_active must not reactivate")
		}
	})
}

func TestDeleteRegister(t *testing.T) {
	r, store, ctx := newTestRegistry(t)
	reg := mustCreate(t, r, ctx, "Front till", "R-01")
	if _, err := r.AssignOperator(ctx, reg.ID, "op-1", "Aye"); err != nil {
		t.Fatalf("AssignOperator: %v", err)
	}

	deleted, err := r.DeleteRegister(ctx, reg.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteRegister = %v, %v; want true, nil", deleted, err)
	}
	if store.Len() != 0 {
		t.Fatalf("register still stored")
	}

	deleted, err = r.DeleteRegister(ctx, reg.ID)
	if err != nil || deleted {
		t.Fatalf("second DeleteRegister = %v, %v; want false, nil", deleted, err)
	}

	// The number is free again once the register is gone.
	mustCreate(t, r, ctx, "Replacement", "R-01")
}

func TestAssignOperator(t *testing.T) {
	r, _, ctx := newTestRegistry(t)
	reg := mustCreate(t, r, ctx, "Front till", "R-01")

	if _, err := r.AssignOperator(ctx, reg.ID, "op-1", "Aye"); err != nil {
		t.Fatalf("first assign: %v", err)
	}
	got, err := r.AssignOperator(ctx, reg.ID, "op-1", "Aye")
	if err != nil {
		t.Fatalf("same operator should be idempotent: %v", err)
	}
	if got.OperatorId == nil || *got.OperatorId != "op-1" {
		t.Fatalf("operator = %v", got.OperatorId)
	}

	_, err = r.AssignOperator(ctx, reg.ID, "op-2", "Bo")
	if !errors.Is(err, models.ErrAlreadyAssigned) {
		t.Fatalf("expected AlreadyAssigned, got %v", err)
	}

	_, err = r.AssignOperator(ctx, 42, "op-1", "Aye")
	if !errors.Is(err, models.ErrRegisterNotFound) {
		t.Fatalf("expected RegisterNotFound, got %v", err)
	}
}

func TestUnassignOperator_Idempotent(t *testing.T) {
	r, _, ctx := newTestRegistry(t)
	reg := mustCreate(t, r, ctx, "Front till", "R-01")

	for i := 0; i < 2; i++ {
		got, err := r.UnassignOperator(ctx, reg.ID)
		if err != nil {
			t.Fatalf("UnassignOperator #%d: %v", i+1, err)
		}
		if got.IsAssigned() {
			t.Fatalf("register should be unassigned")
		}
	}

	if _, err := r.AssignOperator(ctx, reg.ID, "op-1", "Aye"); err != nil {
		t.Fatalf("AssignOperator: %v", err)
	}
	got, err := r.UnassignOperator(ctx, reg.ID)
	if err != nil || got.IsAssigned() {
		t.Fatalf("UnassignOperator after assign = %+v, %v", got, err)
	}
}

func TestListAvailable(t *testing.T) {
	r, _, ctx := newTestRegistry(t)
	a := mustCreate(t, r, ctx, "Front till", "R-01")
	mustCreate(t, r, ctx, "Back till", "R-02")
	if _, err := r.AssignOperator(ctx, a.ID, "op-1", "Aye"); err != nil {
		t.Fatalf("AssignOperator: %v", err)
	}

	available, err := r.ListAvailable(ctx)
	if err != nil {
		t.Fatalf("ListAvailable: %v", err)
	}
	if len(available) != 1 || available[0].RegisterNumber != "R-02" {
		t.Fatalf("available = %+v", available)
	}

	all, err := r.ListRegisters(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListRegisters = %d, %v", len(all), err)
	}
}

func TestSetRegisterActive_MissingRegister(t *testing.T) {
	r, _, ctx := newTestRegistry(t)
	if err := r.SetRegisterActive(ctx, 5, true); !errors.Is(err, models.ErrRegisterNotFound) {
		t.Fatalf("expected RegisterNotFound, got %v", err)
	}
}
