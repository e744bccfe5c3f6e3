// Package errors provides custom error types for fleet-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrConfigNotFound   = errors.New("fleet config not found")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrTemplateMissing  = errors.New("fleet config template not found")
	ErrUnknownBot       = errors.New("unknown bot")
	ErrProcessManager   = errors.New("process manager command failed")
	ErrMarketClosed     = errors.New("market is closed")
	ErrBudgetExceeded   = errors.New("bot budget exhausted")
	ErrInsufficientData = errors.New("insufficient market data")
	ErrTimeout          = errors.New("operation timed out")
	ErrEmergencyStop    = errors.New("emergency stop active")
	ErrBotPaused        = errors.New("bot is paused")
	ErrRegimeBlocked    = errors.New("regime does not allow trading")
)

// BrokerError represents an error from the broker API.
type BrokerError struct {
	Code    string
	Message string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s]: %s", e.Code, e.Message)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewBrokerError creates a new BrokerError.
func NewBrokerError(code, message string, err error) *BrokerError {
	return &BrokerError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ProcessError is a failed process manager invocation.
type ProcessError struct {
	Command string
	Name    string
	Output  string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("process %s [%s]: %v: %s", e.Command, e.Name, e.Err, e.Output)
	}
	return fmt.Sprintf("process %s [%s]: %v", e.Command, e.Name, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is makes every ProcessError match ErrProcessManager.
func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessManager
}

// NewProcessError creates a new ProcessError.
func NewProcessError(command, name, output string, err error) *ProcessError {
	return &ProcessError{
		Command: command,
		Name:    name,
		Output:  output,
		Err:     err,
	}
}

// ConfigError wraps a failure to read or write a configuration document.
type ConfigError struct {
	Path string
	Op   string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(op, path string, err error) *ConfigError {
	return &ConfigError{
		Path: path,
		Op:   op,
		Err:  err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// Is makes every ValidationError match ErrConfigInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// SinkError is a failed write to the metrics sink.
type SinkError struct {
	Sink        string
	Measurement string
	Err         error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("metrics sink %s [%s]: %v", e.Sink, e.Measurement, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// NewSinkError creates a new SinkError.
func NewSinkError(sink, measurement string, err error) *SinkError {
	return &SinkError{
		Sink:        sink,
		Measurement: measurement,
		Err:         err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join combines errors, dropping nils.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
