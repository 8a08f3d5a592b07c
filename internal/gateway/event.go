// Package gateway owns the live connection of one session to the messaging
// network and turns its traffic into a small closed set of lifecycle events.
package gateway

import (
	"context"
	"encoding/json"
)

// Event is one of PairingCodeIssued, Opened, Closed or CredentialsChanged.
type Event interface {
	isEvent()
}

// PairingCodeIssued carries a fresh pairing code. It supersedes earlier codes.
type PairingCodeIssued struct {
	Code string
}

// Opened means the network accepted the connection.
type Opened struct{}

// Closed is always the last event of a connection.
type Closed struct {
	Reason CloseReason
	Err    error
}

// CredentialsChanged carries rotated key material that must be stored before
// the next connection attempt.
type CredentialsChanged struct {
	Blob json.RawMessage
}

func (PairingCodeIssued) isEvent()  {}
func (Opened) isEvent()             {}
func (Closed) isEvent()             {}
func (CredentialsChanged) isEvent() {}

// CloseReason classifies why a connection ended.
type CloseReason int

const (
	// CloseTransient covers network errors, server restarts and timeouts.
	CloseTransient CloseReason = iota
	// CloseLoggedOut is a user sign-out. Reconnecting would fail.
	CloseLoggedOut
)

func (r CloseReason) String() string {
	switch r {
	case CloseLoggedOut:
		return "logged_out"
	default:
		return "transient"
	}
}

// Conn is one live connection. Events is closed after Closed was delivered or
// after Close was called.
type Conn interface {
	Events() <-chan Event
	Close() error
}

// Dialer opens connections. creds is nil when the session has never paired.
type Dialer interface {
	Dial(ctx context.Context, sessionID string, creds json.RawMessage) (Conn, error)
}
