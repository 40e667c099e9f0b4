package trade

import "github.com/yanun0323/errors"

// Open request failures. Each rejection is a distinct sentinel so
// callers can map them to precise client responses.
var (
	ErrInvalidAmount       = errors.New("trade: amount must be positive")
	ErrInvalidDirection    = errors.New("trade: direction must be CALL or PUT")
	ErrInvalidExpiration   = errors.New("trade: expiration must be 5..300 seconds in steps of 5")
	ErrAccountNotFound     = errors.New("trade: account not found")
	ErrNotAccountOwner     = errors.New("trade: account belongs to another user")
	ErrInsufficientBalance = errors.New("trade: insufficient balance")
	ErrQuoteUnavailable    = errors.New("trade: no current price for instrument")
)
