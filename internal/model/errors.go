package model

import (
	"fmt"
	"strings"
)

// ValidationError represents a single validation failure on a request field
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}

// ValidationErrors is returned when a request is rejected before transmission.
// It always carries the complete list, never just the first failure.
type ValidationErrors struct {
	Errors   []string
	Warnings []string
}

func (e *ValidationErrors) Error() string {
	return fmt.Sprintf("request rejected with %d validation error(s): %s", len(e.Errors), strings.Join(e.Errors, "; "))
}

// EncodingError is raised when a payload cannot be normalized to valid UTF-8
type EncodingError struct {
	Stage   string
	Message string
	Cause   error
}

func (e *EncodingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("encoding failed [%s]: %s (%v)", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("encoding failed [%s]: %s", e.Stage, e.Message)
}

func (e *EncodingError) Unwrap() error {
	return e.Cause
}

// NewEncodingError creates a new encoding error
func NewEncodingError(stage, message string, cause error) *EncodingError {
	return &EncodingError{
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// TransportError represents a network failure or a non-2xx answer from the API
type TransportError struct {
	Operation     string
	CorrelationID string
	StatusCode    int
	Body          string
	Cause         error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transport failed [%s] correlation=%s", e.Operation, e.CorrelationID)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, " body=%q", e.Body)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%v)", e.Cause)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ConfigError represents a fatal configuration problem
type ConfigError struct {
	Key     string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error on %s: %s", e.Key, e.Message)
}

// NewConfigError creates a new configuration error
func NewConfigError(key, message string) *ConfigError {
	return &ConfigError{Key: key, Message: message}
}
