package domain

import "errors"

var (
	ErrNotFound                  = errors.New("not found")
	ErrInvalidAmount             = errors.New("invalid amount")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrNothingToClaim            = errors.New("nothing to claim")
	ErrInsufficientRewardReserve = errors.New("insufficient reward reserve")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrForbiddenAsset            = errors.New("forbidden asset")
	ErrTransferFailed            = errors.New("asset transfer failed")
	ErrRateLimited               = errors.New("rate limited")
	ErrSigningFailed             = errors.New("signing failed")
	ErrLockHeld                  = errors.New("lock already held")
)
