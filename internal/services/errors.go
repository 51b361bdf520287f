package services

import "errors"

// Sentinel errors for the credit ledger and its workflows. Handlers map
// these onto HTTP statuses; everything else is treated as a persistence
// failure and surfaced as a generic 500.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrRequestNotFound     = errors.New("top-up request not found")
	ErrAlreadyResolved     = errors.New("top-up request already resolved")
	ErrTraderNotFound      = errors.New("trader not found")
	ErrUsernameTaken       = errors.New("username already taken")
	ErrEmailTaken          = errors.New("email already taken")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAmountNotAllowed    = errors.New("amount not in allowed set")
	ErrRateLimited         = errors.New("too many submissions")
	ErrCredentialInvalid   = errors.New("invalid or expired credential")
)
