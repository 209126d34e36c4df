package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidCurrency     = errors.New("invalid currency")
	ErrNotCounterparty     = errors.New("actor is not a counterparty")
	ErrActivePaymentExists = errors.New("an active payment already exists")
	ErrActiveDisputeExists = errors.New("an active dispute of this type already exists")
	ErrDisputeTerminal     = errors.New("dispute already resolved or rejected")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvariantViolation  = errors.New("state invariant violated")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrGatewayRejected     = errors.New("payment gateway rejected the request")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrStaleState          = errors.New("state changed concurrently")
	ErrAlertResolved       = errors.New("fraud alert already resolved")
)
