package errors

import "fmt"

// ErrorType categorizes failures so callers can tell a caller-contract
// violation (bad shapes) from a bad distribution parameter fed in from
// outside the documented transforms.
type ErrorType string

const (
	ErrorTypeDimension    ErrorType = "dimension"
	ErrorTypeDistribution ErrorType = "distribution"
	ErrorTypeValidation   ErrorType = "validation"
)

// AppError is the error value used throughout the model core. There is no
// retry or recovery logic behind these; they always propagate to the caller.
type AppError struct {
	Type    ErrorType
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewDimensionError reports mismatched shapes between carried state and new
// input (batch size, context length, mixture width).
func NewDimensionError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeDimension, Code: code, Message: message}
}

// NewDistributionError reports non-positive standard deviations or a
// degenerate correlation handed to the mixture density.
func NewDistributionError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeDistribution, Code: code, Message: message}
}

// NewValidationError reports bad construction-time arguments.
func NewValidationError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Code: code, Message: message}
}

// WrapError attaches a category and code to an underlying error.
func WrapError(err error, t ErrorType, code, message string) *AppError {
	return &AppError{Type: t, Code: code, Message: message, Cause: err}
}

// IsType reports whether err is an AppError of the given type.
func IsType(err error, t ErrorType) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Type == t
}
