package models

import (
	"errors"
	"fmt"
)

// LedgerErrorKind names the invariant a rejected register or ledger operation violated.
type LedgerErrorKind string

const (
	ErrorKindRegisterNotFound        LedgerErrorKind = "RegisterNotFound"
	ErrorKindDuplicateRegisterNumber LedgerErrorKind = "DuplicateRegisterNumber"
	ErrorKindAlreadyOpen             LedgerErrorKind = "AlreadyOpen"
	ErrorKindRegisterNotOpen         LedgerErrorKind = "RegisterNotOpen"
	ErrorKindInsufficientBalance     LedgerErrorKind = "InsufficientBalance"
	ErrorKindAlreadyAssigned         LedgerErrorKind = "AlreadyAssigned"
	ErrorKindInvalidInput            LedgerErrorKind = "InvalidInput"
)

// Sentinels for errors.Is; every *LedgerError matches the sentinel of its kind.
var (
	ErrRegisterNotFound        = &LedgerError{Kind: ErrorKindRegisterNotFound}
	ErrDuplicateRegisterNumber = &LedgerError{Kind: ErrorKindDuplicateRegisterNumber}
	ErrAlreadyOpen             = &LedgerError{Kind: ErrorKindAlreadyOpen}
	ErrRegisterNotOpen         = &LedgerError{Kind: ErrorKindRegisterNotOpen}
	ErrInsufficientBalance     = &LedgerError{Kind: ErrorKindInsufficientBalance}
	ErrAlreadyAssigned         = &LedgerError{Kind: ErrorKindAlreadyAssigned}
	ErrInvalidInput            = &LedgerError{Kind: ErrorKindInvalidInput}
)

type LedgerError struct {
	Kind       LedgerErrorKind
	RegisterId int
	Message    string
}

func NewLedgerError(kind LedgerErrorKind, registerId int, format string, args ...any) *LedgerError {
	return &LedgerError{
		Kind:       kind,
		RegisterId: registerId,
		Message:    fmt.Sprintf(format, args...),
	}
}

func (e *LedgerError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *LedgerError) Is(target error) bool {
	t, ok := target.(*LedgerError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// LedgerErrorKindOf returns the kind of the first *LedgerError in err's chain.
func LedgerErrorKindOf(err error) (LedgerErrorKind, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind, true
	}
	return "", false
}
