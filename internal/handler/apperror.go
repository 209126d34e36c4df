package handler

import "net/http"

type AppError struct {
	Status  int
	Code    string
	Message string
}

func (e *AppError) Error() string { return e.Message }

var (
	ErrMissingToken     = &AppError{http.StatusUnauthorized, "MISSING_TOKEN", "Authorization header required"}
	ErrInvalidToken     = &AppError{http.StatusUnauthorized, "INVALID_TOKEN", "Token is invalid or expired"}
	ErrForbidden        = &AppError{http.StatusForbidden, "FORBIDDEN", "Not allowed"}
	ErrInvalidRequest   = &AppError{http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body"}
	ErrValidationFailed = &AppError{http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed"}
	ErrResourceNotFound = &AppError{http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found"}
	ErrInternalError    = &AppError{http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred"}

	ErrInvalidAmount       = &AppError{http.StatusBadRequest, "INVALID_AMOUNT", "Amount must be greater than zero"}
	ErrInvalidCurrency     = &AppError{http.StatusBadRequest, "INVALID_CURRENCY", "Invalid currency"}
	ErrNotCounterparty     = &AppError{http.StatusForbidden, "NOT_COUNTERPARTY", "Only a booking counterparty may perform this action"}
	ErrActivePaymentExists = &AppError{http.StatusConflict, "ACTIVE_PAYMENT_EXISTS", "An active payment already exists for this booking"}
	ErrActiveDisputeExists = &AppError{http.StatusConflict, "ACTIVE_DISPUTE_EXISTS", "An active dispute of this type already exists for this booking"}
	ErrDisputeTerminal     = &AppError{http.StatusConflict, "DISPUTE_TERMINAL", "Dispute is already resolved"}
	ErrStaleState          = &AppError{http.StatusConflict, "STALE_STATE", "Resource was modified concurrently, please retry"}
	ErrInsufficientStock   = &AppError{http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK", "Not enough stock for one or more items"}
	ErrGatewayUnavailable  = &AppError{http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "Payment gateway is unavailable, try again later"}
	ErrGatewayRejected     = &AppError{http.StatusBadRequest, "GATEWAY_REJECTED", "Payment gateway rejected the authorization"}
	ErrInvalidSignature    = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature verification failed"}
	ErrRateLimited         = &AppError{http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests"}
	ErrAlertResolved       = &AppError{http.StatusConflict, "ALERT_RESOLVED", "Fraud alert is already resolved"}
	ErrInvariantViolation  = &AppError{http.StatusInternalServerError, "INVARIANT_VIOLATION", "Inconsistent payment state detected"}
)
