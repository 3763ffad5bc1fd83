package store

import "errors"

// Typed outcomes surfaced to adapters. Anything else coming out of this
// package is an infrastructure failure wrapped with %w and safe to retry.
var (
	ErrNotRegistered       = errors.New("identity not registered")
	ErrItemNotFound        = errors.New("item not found")
	ErrEntryNotFound       = errors.New("ledger entry not found")
	ErrInvalidCost         = errors.New("item cost must be non-negative")
	ErrInvalidReference    = errors.New("malformed image reference")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientHolding = errors.New("insufficient holding")
	ErrDuplicateEvent      = errors.New("event already recorded")
)
