package store

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrInsufficientCredit    = errors.New("insufficient store credit")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrAlreadyClosed         = errors.New("cash closing already exists")
	ErrDuplicateFinanceEntry = errors.New("finance entry already recorded for order")
	// ErrDuplicateEntry is returned when a store-credit reference was already used.
	ErrDuplicateEntry = errors.New("duplicate ledger reference")
)

type InsufficientCreditError struct {
	ProfileID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient store credit for profile %s: available %s, requested %s",
		e.ProfileID, e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

type AlreadyClosedError struct {
	Date string
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("cash closing for %s already exists", e.Date)
}

func (e *AlreadyClosedError) Unwrap() error { return ErrAlreadyClosed }

type TransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
