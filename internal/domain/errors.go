package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrCapacityExceeded    = errors.New("tier capacity exceeded")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrNotAssigned         = errors.New("listing holds no slot")
	ErrScheduleExhausted   = errors.New("boost schedule exhausted")
	ErrConcurrencyConflict = errors.New("concurrent modification")
	ErrAlreadyExists       = errors.New("already exists")
	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrLockHeld            = errors.New("lock already held")
)
