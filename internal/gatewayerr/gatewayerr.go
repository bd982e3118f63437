// Package gatewayerr defines the closed error taxonomy of §7: every
// condition the session handler can hit maps to one Kind, dispatched
// exhaustively at the transport boundary into a reply policy (reply and
// keep the connection, reply and log, or close).
package gatewayerr

import "fmt"

// Kind is the closed set of gateway error conditions.
type Kind string

const (
	MalformedFrame   Kind = "MalformedFrame"
	NotIdentified    Kind = "NotIdentified"
	MissingFields    Kind = "MissingFields"
	AuthMismatch     Kind = "AuthMismatch"
	BadHistoryItem   Kind = "BadHistoryItem"
	LLMFailure       Kind = "LLMFailure"
	HeartbeatTimeout Kind = "HeartbeatTimeout"
	IdleTimeout      Kind = "IdleTimeout"
	StartupConfig    Kind = "StartupConfig"
)

// GatewayError carries a Kind plus the human-readable message that is
// surfaced verbatim on the transport frame's error field.
type GatewayError struct {
	Kind    Kind
	Message string
	ChatID  string
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

// New constructs a GatewayError of kind with message.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// WithChatID attaches chatID, used by LLMFailure replies that must carry
// it per §7.
func (e *GatewayError) WithChatID(chatID string) *GatewayError {
	e.ChatID = chatID
	return e
}

// Policy describes how the transport boundary should react to a Kind.
type Policy struct {
	Reply bool // send an {error, ...} frame
	Log   bool // emit a security/audit log line in addition to the reply
	Close bool // close the connection after handling
	Fatal bool // abort the process (StartupConfig only)
}

// PolicyFor returns the dispatch policy for kind (§7's table).
func PolicyFor(kind Kind) Policy {
	switch kind {
	case MalformedFrame, NotIdentified, MissingFields, BadHistoryItem, LLMFailure:
		return Policy{Reply: true}
	case AuthMismatch:
		return Policy{Reply: true, Log: true}
	case HeartbeatTimeout:
		return Policy{Close: true}
	case IdleTimeout:
		return Policy{Close: true}
	case StartupConfig:
		return Policy{Fatal: true}
	default:
		return Policy{Reply: true}
	}
}

// Frame is the wire shape of an error reply.
type Frame struct {
	Error        string `json:"error"`
	ChatID       string `json:"chat_uuid,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

// ToFrame renders err as the transport's error frame, attaching
// connectionID when err carries no chat id.
func ToFrame(err *GatewayError, connectionID string) Frame {
	frame := Frame{Error: err.Error(), ChatID: err.ChatID}
	if frame.ChatID == "" {
		frame.ConnectionID = connectionID
	}
	return frame
}

// Wrap annotates err (any error) as an LLMFailure carrying chatID, the
// one Kind that wraps an arbitrary upstream cause rather than being
// raised directly.
func Wrap(chatID string, cause error) *GatewayError {
	return &GatewayError{
		Kind:    LLMFailure,
		Message: fmt.Sprintf("llm request failed: %v", cause),
		ChatID:  chatID,
	}
}
