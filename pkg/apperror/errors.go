package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable failure class surfaced alongside the message.
type Kind string

const (
	KindRateUnavailable     Kind = "RATE_UNAVAILABLE"
	KindNetworkFailure      Kind = "NETWORK_FAILURE"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindTransactionConflict Kind = "TRANSACTION_CONFLICT"
	KindTransactionFatal    Kind = "TRANSACTION_FATAL"
	KindInProgress          Kind = "IN_PROGRESS"
	KindNotFound            Kind = "NOT_FOUND"
	KindUnauthorized        Kind = "UNAUTHORIZED"
	KindRateLimited         Kind = "RATE_LIMITED"
	KindInternal            Kind = "INTERNAL"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, kind Kind, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, kind Kind, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// KindOf returns the Kind of the first AppError in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// ---- Exchange rates (RATE) ----

func ErrRateUnavailable(reason string, err error) *AppError {
	return Wrap("RATE_001", KindRateUnavailable, "Exchange rate unavailable: "+reason, http.StatusServiceUnavailable, err)
}

func ErrRateNetworkFailure(err error) *AppError {
	return Wrap("RATE_002", KindNetworkFailure, "Could not reach the exchange-rate service", http.StatusBadGateway, err)
}

func ErrNoRateForRemainder() *AppError {
	return New("RATE_003", KindRateUnavailable, "No rate available to convert the remainder", http.StatusConflict)
}

// ---- Confirmation preconditions (VAL) ----

func ErrNotAuthenticated() *AppError {
	return New("VAL_001", KindValidation, "A confirming operator is required", http.StatusUnauthorized)
}

func ErrMobileMetadataMissing() *AppError {
	return New("VAL_002", KindValidation, "Mobile transfer requires a bank and a reference code", http.StatusUnprocessableEntity)
}

func ErrNoPositiveInstrument() *AppError {
	return New("VAL_003", KindValidation, "Select at least one payment method with an amount greater than zero", http.StatusUnprocessableEntity)
}

func ErrConversionUnresolved() *AppError {
	return New("VAL_004", KindValidation, "Cannot convert local-currency amounts without a conversion rate", http.StatusUnprocessableEntity)
}

// ErrTotalMismatch reports the signed difference (received - total).
func ErrTotalMismatch(shortfall string, over bool) *AppError {
	msg := "Payment is short by " + shortfall
	if over {
		msg = "Payment exceeds the order total by " + shortfall
	}
	return New("VAL_005", KindValidation, msg, http.StatusUnprocessableEntity)
}

// Validation returns a generic input validation error.
func Validation(message string) *AppError {
	return New("VAL_006", KindValidation, message, http.StatusBadRequest)
}

// ---- Settlement transaction (TX / SETTLE) ----

func ErrTransactionConflict(orderID string, err error) *AppError {
	return Wrap("TX_001", KindTransactionConflict,
		fmt.Sprintf("Payment for order %s was NOT saved because of a concurrent change; please retry", orderID),
		http.StatusConflict, err)
}

func ErrTransactionFatal(orderID string, err error) *AppError {
	return Wrap("TX_002", KindTransactionFatal,
		fmt.Sprintf("Payment for order %s was NOT saved: the order no longer exists", orderID),
		http.StatusGone, err)
}

func ErrSettlementInProgress() *AppError {
	return New("SETTLE_001", KindInProgress, "A confirmation for this order is already in progress", http.StatusConflict)
}

// ---- Sessions and orders ----

func ErrSessionNotFound() *AppError {
	return New("SESSION_001", KindNotFound, "Payment session not found or expired", http.StatusNotFound)
}

func ErrOrderNotFound() *AppError {
	return New("ORDER_001", KindNotFound, "Order not found", http.StatusNotFound)
}

func ErrOrderAlreadyPaid() *AppError {
	return New("ORDER_002", KindValidation, "Order has already been paid", http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidToken() *AppError {
	return New("AUTH_001", KindUnauthorized, "Invalid or expired token", http.StatusUnauthorized)
}

// ---- Rate Limiting (LIMIT) ----

func ErrRateLimitExceeded() *AppError {
	return New("LIMIT_001", KindRateLimited, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", KindInternal, "Internal server error", http.StatusInternalServerError, err)
}
