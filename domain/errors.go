package domain

import "errors"

// Authorization and scope resolution.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrPharmacyRequired = errors.New("pharmacy id is required")
	ErrNoActivePharmacy = errors.New("no active pharmacy selected")
)

// Ledger and records.
var (
	ErrLotNotFound            = errors.New("inventory lot not found")
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateLot           = errors.New("lot already exists for pharmacy and medication")
	ErrDuplicate              = errors.New("duplicate record")
	ErrInUse                  = errors.New("entity is referenced by other records")
	ErrIdempotencyMismatch    = errors.New("request key reused with different parameters")
	ErrValidation             = errors.New("validation failed")
)

// ErrConflict reports concurrent write contention on a row. It is retried
// internally; ErrTransient wraps it once retries are exhausted.
var (
	ErrConflict  = errors.New("concurrent update conflict")
	ErrTransient = errors.New("transient failure")
)
