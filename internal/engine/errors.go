package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrCoolingDown indicates a message action fired before its cooldown expired.
	// It is a deliberate drop, not a failure.
	ErrCoolingDown = errors.New("message action cooling down")

	// ErrSlotDisabled indicates the message-action slot is disabled.
	ErrSlotDisabled = errors.New("message action slot disabled")

	// ErrSlotOutOfRange indicates an action refers to a slot the table does not have.
	ErrSlotOutOfRange = errors.New("message action slot out of range")

	// ErrResetLimitReached indicates the Reset Guard refused a reset.
	ErrResetLimitReached = errors.New("processor reset limit reached")

	// ErrPersistFailed indicates the Reset Guard block could not be written.
	ErrPersistFailed = errors.New("reset guard persist failed")

	// ErrActuatorFailed indicates the reset actuator returned an error.
	ErrActuatorFailed = errors.New("reset actuator failed")

	// ErrResetGuardCorrupt indicates the persisted block failed its complement check.
	ErrResetGuardCorrupt = errors.New("reset guard block corrupt")

	// ErrInvalidCalibration indicates a zero utilization multiplier or divisor.
	ErrInvalidCalibration = errors.New("invalid utilization calibration")

	// ErrTableNotLoaded indicates a monitor cannot be enabled without its table.
	ErrTableNotLoaded = errors.New("table not loaded")
)

// RuntimeError describes a failed command or cycle step.
//
// RuntimeError includes structured fields for diagnostics. The wrapped
// sentinel is reachable through errors.Is.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Component names the engine part that detected the error.
	Component string

	// Err is the underlying cause.
	Err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeTableUnavailable indicates a table lease could not be acquired.
	ErrCodeTableUnavailable RuntimeErrorCode = "TABLE_UNAVAILABLE"

	// ErrCodeInvalidConfig indicates a rejected configuration change.
	ErrCodeInvalidConfig RuntimeErrorCode = "INVALID_CONFIG"

	// ErrCodeResetRefused indicates the Reset Guard refused or failed a reset.
	ErrCodeResetRefused RuntimeErrorCode = "RESET_REFUSED"

	// ErrCodePersist indicates the persistent block could not be read or written.
	ErrCodePersist RuntimeErrorCode = "PERSIST"

	// ErrCodeSubscription indicates a partial or failed event subscription change.
	ErrCodeSubscription RuntimeErrorCode = "SUBSCRIPTION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		msg = fmt.Sprintf("%s (component=%s)", msg, e.Component)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

func newRuntimeError(code RuntimeErrorCode, component, message string, err error) *RuntimeError {
	return &RuntimeError{Code: code, Component: component, Message: message, Err: err}
}

// HasCode reports whether err is a RuntimeError with the given code.
// Uses errors.As to handle wrapped errors.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsResetRefused reports whether err is a refused or failed processor reset.
func IsResetRefused(err error) bool {
	return HasCode(err, ErrCodeResetRefused) || errors.Is(err, ErrResetLimitReached)
}

// IsInvalidConfig reports whether err is a rejected configuration change.
func IsInvalidConfig(err error) bool {
	return HasCode(err, ErrCodeInvalidConfig) || errors.Is(err, ErrInvalidCalibration)
}
