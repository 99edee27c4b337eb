// internal/app/errors.go
package app

import (
	"errors"
	"fmt"
	"net/http"

	"reward_verification_service/internal/domain/payment"
	"reward_verification_service/internal/domain/verification"
)

// Code is a machine-readable error category returned to API clients.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeConflict            Code = "CONFLICT"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeForbidden           Code = "FORBIDDEN"
	CodeInternal            Code = "INTERNAL_SERVER_ERROR"
	CodeDeadlineExpired     Code = "VERIFICATION_DEADLINE_EXPIRED"
	CodePaymentFailed       Code = "SWISH_PAYMENT_FAILED"
	CodeInvalidTransition   Code = "INVALID_STATUS_TRANSITION"
	CodeInvoicesExist       Code = "INVOICES_ALREADY_EXIST"
	CodePreparationInFlight Code = "PREPARATION_IN_PROGRESS"
	CodeDatabaseLocked      Code = "DATABASE_LOCKED"
	CodeBatchLocked         Code = "BATCH_LOCKED"
	CodeInvalidDownload     Code = "INVALID_DOWNLOAD_TOKEN"
)

type codeInfo struct {
	Status  int
	Message string
}

// codeTable maps every code to its HTTP status and default user-facing message.
var codeTable = map[Code]codeInfo{
	CodeValidation:          {http.StatusBadRequest, "Request validation failed"},
	CodeNotFound:            {http.StatusNotFound, "Resource not found"},
	CodeConflict:            {http.StatusConflict, "Resource state conflict"},
	CodeUnauthorized:        {http.StatusUnauthorized, "Authentication required"},
	CodeForbidden:           {http.StatusForbidden, "Insufficient permissions"},
	CodeInternal:            {http.StatusInternalServerError, "Internal server error"},
	CodeDeadlineExpired:     {http.StatusConflict, "The verification deadline for this cycle has passed"},
	CodePaymentFailed:       {http.StatusBadGateway, "Reward payout could not be completed"},
	CodeInvalidTransition:   {http.StatusConflict, "Invalid status transition"},
	CodeInvoicesExist:       {http.StatusConflict, "Invoices already exist for this cycle"},
	CodePreparationInFlight: {http.StatusConflict, "Database preparation already in progress for this cycle"},
	CodeDatabaseLocked:      {http.StatusConflict, "Verification database has already been submitted"},
	CodeBatchLocked:         {http.StatusConflict, "Payment batch is locked by another job"},
	CodeInvalidDownload:     {http.StatusForbidden, "Download link is invalid or has expired"},
}

// HTTPStatus returns the status for a code, 500 for unknown codes.
func HTTPStatus(code Code) int {
	if info, ok := codeTable[code]; ok {
		return info.Status
	}
	return http.StatusInternalServerError
}

// DefaultMessage returns the fixed user-facing message for a code.
func DefaultMessage(code Code) string {
	if info, ok := codeTable[code]; ok {
		return info.Message
	}
	return codeTable[CodeInternal].Message
}

// Error is a domain violation that should reach the client as-is.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code and message, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func newError(code Code, message string) *Error {
	if message == "" {
		message = DefaultMessage(code)
	}
	return &Error{Code: code, Message: message}
}

func Validation(format string, args ...any) *Error {
	return newError(CodeValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) *Error {
	return newError(CodeConflict, fmt.Sprintf(format, args...))
}

// WithCode builds an error carrying the table's default message for code.
func WithCode(code Code) *Error {
	return newError(code, "")
}

// AsError extracts an *Error from the chain. Anything else is an internal error.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Sentinel errors returned by the services.
var (
	ErrCycleNotFound       = newError(CodeNotFound, "Verification cycle not found")
	ErrDatabaseNotFound    = newError(CodeNotFound, "Verification database not found")
	ErrJobNotFound         = newError(CodeNotFound, "No preparation job found for this cycle")
	ErrInvoiceNotFound     = newError(CodeNotFound, "Invoice not found")
	ErrCycleExists         = newError(CodeConflict, "A verification cycle already exists for this week")
	ErrNotMonday           = newError(CodeValidation, "cycle_week must be a Monday")
	ErrPreparationInFlight = WithCode(CodePreparationInFlight)
	ErrInvoicesExist       = WithCode(CodeInvoicesExist)
	ErrDatabaseLocked      = WithCode(CodeDatabaseLocked)
	ErrBatchLocked         = WithCode(CodeBatchLocked)
	ErrDeadlineExpired     = WithCode(CodeDeadlineExpired)
	ErrInvalidDownload     = WithCode(CodeInvalidDownload)
	ErrPaymentDateRequired = newError(CodeValidation, "payment_date is required when status is paid")
)

// invalidCycleStatus is the 409 returned when an operation needs the cycle in a specific state.
func invalidCycleStatus(want, got verification.CycleStatus) *Error {
	return Conflict("Invalid cycle status: expected %s, got %s", want, got)
}

// invalidCycleTransition is the 409 returned when the state machine refuses a move.
func invalidCycleTransition(from, to verification.CycleStatus) *Error {
	return newError(CodeInvalidTransition, fmt.Sprintf("Invalid cycle status transition from %s to %s", from, to))
}

// ownedCycleTransition refuses a legal move that a status update may not apply directly.
func ownedCycleTransition(from, to verification.CycleStatus, hint string) *Error {
	return newError(CodeInvalidTransition, fmt.Sprintf("Invalid cycle status transition from %s to %s: %s", from, to, hint))
}

// invalidInvoiceTransition is the 409 returned when the payment table refuses a move.
func invalidInvoiceTransition(from, to payment.InvoiceStatus) *Error {
	return newError(CodeInvalidTransition, fmt.Sprintf("Invalid payment status transition from %s to %s", from, to))
}
