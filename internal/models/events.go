package models

// Event names pushed to tenant streams.
const (
	EventQRCode        = "qr-code"
	EventSessionStatus = "session-status"
)

// QRCodeEvent is the payload of a qr-code event.
type QRCodeEvent struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
}

// SessionStatusEvent is the payload of a session-status event.
type SessionStatusEvent struct {
	SessionID string `json:"sessionId"`
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
}
