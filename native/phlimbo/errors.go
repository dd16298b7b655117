package phlimbo

import "errors"

var (
	ErrNilState              = errors.New("phlimbo: state not configured")
	ErrUnauthorized          = errors.New("phlimbo: unauthorized")
	ErrZeroAddress           = errors.New("phlimbo: zero address")
	ErrInvalidAmount         = errors.New("phlimbo: amount must be positive")
	ErrInsufficientBalance   = errors.New("phlimbo: insufficient PHAME balance")
	ErrInsufficientStake     = errors.New("phlimbo: unstake exceeds staked amount")
	ErrInsufficientAllowance = errors.New("phlimbo: stake allowance exceeded")
	ErrNothingPending        = errors.New("phlimbo: no pending rewards")
	ErrPausesNotSet          = errors.New("phlimbo: pause control not wired")
	ErrAlreadyPaused         = errors.New("phlimbo: module already paused")
	ErrNotPaused             = errors.New("phlimbo: module not paused")
)
