package models

import "encoding/json"

// Status is the lifecycle state of a session as recorded in the registry.
type Status string

const (
	StatusInitializing    Status = "INITIALIZING"
	StatusAwaitingPairing Status = "AWAITING_PAIRING"
	StatusConnected       Status = "CONNECTED"
	StatusDisconnected    Status = "DISCONNECTED"
)

var ValidStatuses = map[Status]bool{
	StatusInitializing:    true,
	StatusAwaitingPairing: true,
	StatusConnected:       true,
	StatusDisconnected:    true,
}

func (s Status) IsValid() bool {
	return ValidStatuses[s]
}

// Session is one tenant's durable record of a connection to the messaging network.
type Session struct {
	ID            string `json:"id"`
	OwnerID       string `json:"ownerId"`
	Name          string `json:"name"`
	Status        Status `json:"status"`
	StatusMessage string `json:"statusMessage,omitempty"`
	// CredentialBlob is opaque key material and never leaves the server.
	CredentialBlob json.RawMessage `json:"-"`
	HasCredentials bool            `json:"hasCredentials"`
	CreatedAt      int64           `json:"createdAt"`
	UpdatedAt      int64           `json:"updatedAt"`
}

// Summary returns the list projection of the session.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{ID: s.ID, Name: s.Name, Status: s.Status}
}

// SessionSummary is the projection returned by GET /sessions.
type SessionSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// ConnectRequest is the optional body of POST /sessions/connect.
type ConnectRequest struct {
	Name      string `json:"name"`
	SessionID string `json:"sessionId"`
}

// ConnectResponse is returned once the connection process has been started.
type ConnectResponse struct {
	Message string   `json:"message"`
	Session *Session `json:"session"`
}

// PairingCodeResponse is returned by the pull-based pairing code accessors.
type PairingCodeResponse struct {
	SessionID string  `json:"sessionId,omitempty"`
	QR        *string `json:"qr"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string       `json:"status"`
	DB            ServiceCheck `json:"db"`
	ActiveHandles int          `json:"activeHandles"`
	SessionCount  int          `json:"sessionCount"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
