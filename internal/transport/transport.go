// Package transport defines the contracts between the conversation router and
// whatever carries messages to and from end users.
package transport

import "context"

// Message is one inbound message event from the transport.
type Message struct {
	// Sender is the transport-level identifier of the peer, e.g. a WhatsApp
	// JID like "15551230001@s.whatsapp.net".
	Sender string `json:"sender"`
	// Body is the text content of the message.
	Body string `json:"body"`
	// IsGroup reports whether the message originated in a group chat.
	IsGroup bool `json:"is_group"`
	// PushName is the sender's self-reported display name, if any.
	PushName string `json:"push_name,omitempty"`
}

// Messenger delivers outbound text to a recipient address.
type Messenger interface {
	SendMessage(ctx context.Context, to, body string) error
}

// SessionState describes the transport's pairing/session lifecycle. The
// router only logs these; session management belongs to the transport.
type SessionState string

const (
	SessionConnecting   SessionState = "connecting"
	SessionReady        SessionState = "ready"
	SessionDisconnected SessionState = "disconnected"
)
