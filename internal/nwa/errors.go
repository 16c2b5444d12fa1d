package nwa

import (
	"errors"
	"fmt"
)

// Sentinel errors for the NWA client.
var (
	// ErrNotConnected indicates a command was sent without a connection.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed indicates the client was closed locally.
	ErrClosed = errors.New("client closed")
)

// ConnectionError represents a connection-related error.
type ConnectionError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("connection failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("connection failed: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// NewConnectionError creates a new connection error.
func NewConnectionError(message string, cause error) error {
	return &ConnectionError{Message: message, Cause: cause}
}
