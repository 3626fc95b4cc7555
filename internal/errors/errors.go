package errors

import (
	stderrors "errors"
	"fmt"
)

// AppError represents a structured application error
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context, keeping the code of a wrapped AppError
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    appErr.Code,
			Message: message,
			Cause:   err,
		}
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an error with formatted additional context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WithCode adds an error code to an existing error
func WithCode(code string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return &AppError{
			Code:    code,
			Message: appErr.Message,
			Cause:   appErr.Cause,
		}
	}
	return &AppError{
		Code:    code,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsAppError checks if an error is or wraps an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetCode returns the error code if it's an AppError, otherwise returns "UNKNOWN"
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

// IsCode reports whether err carries the given code
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Is and As forward to the standard library so callers need one errors import
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

// Predefined error codes
const (
	CodeConfigInvalid         = "CONFIG_INVALID"
	CodeDatabaseError         = "DATABASE_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeInternalError         = "INTERNAL_ERROR"
	CodeExternalService       = "EXTERNAL_SERVICE_ERROR"
	CodeInvalidInput          = "INVALID_INPUT"
	CodeLookupError           = "LOOKUP_ERROR"
	CodeInvalidFormula        = "INVALID_FORMULA"
	CodeChemistryInvalid      = "CHEMISTRY_INVALID"
	CodePredictionUnavailable = "PREDICTION_UNAVAILABLE"
	CodeGenerationError       = "GENERATION_ERROR"
	CodeRuleStoreCorrupt      = "RULE_STORE_CORRUPT"
	CodeRuleStoreEmpty        = "RULE_STORE_EMPTY"
	CodeCancelled             = "CANCELLED"
	CodeTimeout               = "TIMEOUT"
)

// Common error constructors
func ConfigInvalid(message string) *AppError {
	return New(CodeConfigInvalid, message)
}

func DatabaseError(message string, cause error) *AppError {
	return &AppError{Code: CodeDatabaseError, Message: message, Cause: cause}
}

func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code:    CodeExternalService,
		Message: fmt.Sprintf("%s service error", service),
		Cause:   cause,
	}
}

func InvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message)
}

func LookupError(formula string, cause error) *AppError {
	return &AppError{Code: CodeLookupError, Message: fmt.Sprintf("lookup of %s failed", formula), Cause: cause}
}

func InvalidFormula(cause error) *AppError {
	return &AppError{Code: CodeInvalidFormula, Message: "invalid formula", Cause: cause}
}

func ChemistryInvalid(reason string) *AppError {
	return New(CodeChemistryInvalid, reason)
}

func PredictionUnavailable(prototype string, cause error) *AppError {
	return &AppError{Code: CodePredictionUnavailable, Message: fmt.Sprintf("energy prediction for %s failed", prototype), Cause: cause}
}

func GenerationError(purpose string, cause error) *AppError {
	return &AppError{Code: CodeGenerationError, Message: fmt.Sprintf("%s generation failed", purpose), Cause: cause}
}

func RuleStoreCorrupt(file string, cause error) *AppError {
	return &AppError{Code: CodeRuleStoreCorrupt, Message: fmt.Sprintf("rule file %s cannot be parsed", file), Cause: cause}
}

func RuleStoreEmpty(dir string) *AppError {
	return New(CodeRuleStoreEmpty, fmt.Sprintf("no rules found in %s", dir))
}

func Cancelled(cause error) *AppError {
	return &AppError{Code: CodeCancelled, Message: "run cancelled", Cause: cause}
}

func Timeout(operation string, cause error) *AppError {
	return &AppError{Code: CodeTimeout, Message: fmt.Sprintf("%s timed out", operation), Cause: cause}
}
