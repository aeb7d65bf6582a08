package session

import (
	"encoding/json"

	"github.com/phrazzld/taskrelay/internal/domain"
)

// Message types sent to clients outside of result events.
const (
	TypeConnectionEstablished = "connection_established"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeEcho                  = "echo"
	TypeDiagnostic            = "diagnostic"
)

// Websocket close codes used by sessions.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011
)

// Ack is the acknowledgement sent once a session is open.
type Ack struct {
	Type    string          `json:"type"`
	UserID  domain.Identity `json:"user_id"`
	Message string          `json:"message"`
}

// NewAck builds the acknowledgement for identity.
func NewAck(identity domain.Identity) Ack {
	return Ack{
		Type:    TypeConnectionEstablished,
		UserID:  identity,
		Message: "Connected as user " + identity.String(),
	}
}

// Control is a typed message with an optional text body.
type Control struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// Diagnostic is an operator message pushed to every session of a group.
type Diagnostic struct {
	Type    string          `json:"type"`
	Content string          `json:"content"`
	UserID  domain.Identity `json:"user_id"`
}

// NewDiagnostic builds a diagnostic message addressed to identity.
func NewDiagnostic(identity domain.Identity, content string) Diagnostic {
	return Diagnostic{Type: TypeDiagnostic, Content: content, UserID: identity}
}

// isPing reports whether an inbound text frame is {"type":"ping"}.
func isPing(data []byte) bool {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return false
	}
	return c.Type == TypePing
}
