// Package apperr defines the stable error codes the service returns.
// Every orchestration step fails with one of these so callers can branch
// on the code instead of parsing messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

func (c Code) String() string { return string(c) }

const (
	// validation
	CodeCartEmpty              Code = "CART_EMPTY"
	CodeAddressNotBelongToUser Code = "ADDRESS_NOT_BELONG_TO_USER"
	CodeAddressNotFound        Code = "ADDRESS_NOT_FOUND"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeListingNotFound        Code = "LISTING_NOT_FOUND"
	CodeOrderNotFound          Code = "ORDER_NOT_FOUND"

	// business rules
	CodeOrderCannotBeCancelled     Code = "ORDER_CANNOT_BE_CANCELLED"
	CodeOrderCannotBeRefunded      Code = "ORDER_CANNOT_BE_REFUNDED"
	CodeOrderCannotBeCompleted     Code = "ORDER_CANNOT_BE_COMPLETED"
	CodeOrderItemNotFound          Code = "ORDER_ITEM_NOT_FOUND"
	CodeOrderItemAlreadyCancelled  Code = "ORDER_ITEM_ALREADY_CANCELLED"
	CodeOrderItemAlreadyRefunded   Code = "ORDER_ITEM_ALREADY_REFUNDED"
	CodeRefundTimeExpired          Code = "REFUND_TIME_EXPIRED"
	CodeRefundQuantityExceeds      Code = "REFUND_QUANTITY_EXCEEDS_REMAINING"
	CodeEscrowAlreadyExists        Code = "ESCROW_ALREADY_EXISTS"
	CodeEscrowNotPending           Code = "ESCROW_NOT_PENDING"

	// resource contention
	CodeStockInsufficient Code = "STOCK_INSUFFICIENT"
	CodeConcurrentUpdate  Code = "CONCURRENT_UPDATE"

	// integration
	CodePaymentFailed                Code = "PAYMENT_FAILED"
	CodePaymentVerificationRequired  Code = "PAYMENT_VERIFICATION_REQUIRED"
	CodePaymentVerificationMismatch  Code = "PAYMENT_VERIFICATION_MISMATCH"
	CodeIdempotencyKeyConflict       Code = "IDEMPOTENCY_KEY_CONFLICT"
	CodeUnsupportedPaymentType       Code = "UNSUPPORTED_PAYMENT_TYPE"
	CodeInsufficientFunds            Code = "INSUFFICIENT_FUNDS"

	// data consistency
	CodeOrderShippingMismatch Code = "ORDER_SHIPPING_STATUS_MISMATCH"

	CodeInternal Code = "INTERNAL_ERROR"
)

// Error carries a stable code plus a human message. HTTPStatus tells the
// router how to map it without a switch per handler.
type Error struct {
	Code       Code
	Message    string
	HTTPStatus int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches two apperr errors by code so errors.Is works with the
// sentinel-free style used across the services.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New builds an error with an explicit HTTP status.
func New(code Code, status int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), HTTPStatus: status}
}

// Validation is a 400-class error with no side effects performed.
func Validation(code Code, format string, args ...any) *Error {
	return New(code, http.StatusBadRequest, format, args...)
}

// NotFound is a 404-class error.
func NotFound(code Code, format string, args ...any) *Error {
	return New(code, http.StatusNotFound, format, args...)
}

// Conflict covers business-rule and contention failures (409).
func Conflict(code Code, format string, args ...any) *Error {
	return New(code, http.StatusConflict, format, args...)
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", HTTPStatus: http.StatusInternalServerError, cause: err}
}

// Wrap attaches a cause while keeping code and status.
func Wrap(code Code, status int, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), HTTPStatus: status, cause: err}
}

// CodeOf extracts the stable code from any error chain, defaulting to
// INTERNAL_ERROR for plain errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// StatusOf extracts the HTTP status for the router.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) && e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}
