package supervisor

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotConnected    = errors.New("session is not connected")
	ErrClosed          = errors.New("supervisor is shut down")
)

// ValidationError reports bad input. No state was changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// CredentialIOError wraps a failure to read or write credential material,
// locally or in the registry.
type CredentialIOError struct {
	Op  string
	Err error
}

func (e *CredentialIOError) Error() string {
	return fmt.Sprintf("credential %s: %v", e.Op, e.Err)
}

func (e *CredentialIOError) Unwrap() error {
	return e.Err
}
