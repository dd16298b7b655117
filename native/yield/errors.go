package yield

import "errors"

var (
	ErrNilState           = errors.New("yield: state not configured")
	ErrUnauthorized       = errors.New("yield: unauthorized")
	ErrZeroAddress        = errors.New("yield: zero address")
	ErrInvalidAmount      = errors.New("yield: amount must be positive")
	ErrInvalidToken       = errors.New("yield: token not supported by strategy")
	ErrTokenNotConfigured = errors.New("yield: token not configured")
	ErrInvalidDecimals    = errors.New("yield: token decimals exceed canonical precision")
	ErrInvalidRate        = errors.New("yield: exchange rate must be positive")
	ErrDiscountTooHigh    = errors.New("yield: discount rate above maximum")
	ErrStrategyExists     = errors.New("yield: strategy already registered")
	ErrStrategyUnknown    = errors.New("yield: strategy not registered")
	ErrOutstandingYield   = errors.New("yield: strategy has uncollected yield")
	ErrTokenPaused        = errors.New("yield: token already paused")
	ErrTokenNotPaused     = errors.New("yield: token not paused")
	ErrInsufficientFunds  = errors.New("yield: withdrawal exceeds balance")
	ErrNoClient           = errors.New("yield: client not authorized")
	ErrNoYield            = errors.New("yield: nothing to claim")
	ErrMinterNotSet       = errors.New("yield: minter not configured")
	ErrBookNotSet         = errors.New("yield: token book not configured")
	ErrPausesNotSet       = errors.New("yield: pause control not wired")
	ErrAlreadyPaused      = errors.New("yield: module already paused")
	ErrNotPaused          = errors.New("yield: module not paused")
)
