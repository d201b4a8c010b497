package models

import (
	"encoding/json"
	"errors"
)

type LedgerEventKind string

const (
	LedgerEventKindOpen       LedgerEventKind = "Open"
	LedgerEventKindClose      LedgerEventKind = "Close"
	LedgerEventKindDeposit    LedgerEventKind = "Deposit"
	LedgerEventKindWithdrawal LedgerEventKind = "Withdrawal"
)

func (k LedgerEventKind) IsValid() bool {
	switch k {
	case LedgerEventKindOpen, LedgerEventKindClose, LedgerEventKindDeposit, LedgerEventKindWithdrawal:
		return true
	}
	return false
}

// convert input to enum type
func (k *LedgerEventKind) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("ledger event kind must be string")
	}
	v := LedgerEventKind(str)
	if !v.IsValid() {
		return errors.New("invalid ledger event kind")
	}
	*k = v
	return nil
}

// PaymentMethod is the tender of a POS sale. Mixed sales carry per-method payment lines.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "Cash"
	PaymentMethodCard   PaymentMethod = "Card"
	PaymentMethodMobile PaymentMethod = "Mobile"
	PaymentMethodMixed  PaymentMethod = "Mixed"
)

func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobile, PaymentMethodMixed:
		return true
	}
	return false
}

func (m *PaymentMethod) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("payment method must be string")
	}
	v := PaymentMethod(str)
	if !v.IsValid() {
		return errors.New("invalid payment method")
	}
	*m = v
	return nil
}

type PosSaleStatus string

const (
	PosSaleStatusCompleted PosSaleStatus = "Completed"
	PosSaleStatusVoided    PosSaleStatus = "Voided"
)

// Ledger outbox statuses (DB values).
const (
	LedgerOutboxStatusPending      = "PENDING"
	LedgerOutboxStatusInFlight     = "IN_FLIGHT"
	LedgerOutboxStatusAcknowledged = "ACKNOWLEDGED"
	LedgerOutboxStatusFailed       = "FAILED"
	LedgerOutboxStatusDead         = "DEAD"
)
