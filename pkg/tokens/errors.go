package tokens

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the token ledger.
var (
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrDuplicateEvent           = errors.New("duplicate external event")
	ErrInvalidProviderID        = errors.New("invalid provider id")
	ErrInvalidEventID           = errors.New("invalid event id")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidTransactionKind   = errors.New("invalid transaction kind")
	ErrInvalidTransactionReason = errors.New("invalid transaction reason")
	ErrInvalidTier              = errors.New("invalid tier")
	ErrInvalidMetadataJSON      = errors.New("invalid metadata json")
	ErrInvalidServiceConfig     = errors.New("invalid service config")
	ErrUnknownAccount           = errors.New("unknown account")
)

// ShortfallError reports how many tokens a rejected debit was short by.
type ShortfallError struct {
	Requested int64
	Available int64
}

// Error returns the formatted error message.
func (shortfall ShortfallError) Error() string {
	return fmt.Sprintf("insufficient balance: requested %d, available %d", shortfall.Requested, shortfall.Available)
}

// Unwrap ties the shortfall to ErrInsufficientBalance for errors.Is checks.
func (shortfall ShortfallError) Unwrap() error {
	return ErrInsufficientBalance
}

// Shortfall returns the token count the debit was short by.
func (shortfall ShortfallError) Shortfall() int64 {
	return shortfall.Requested - shortfall.Available
}

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
