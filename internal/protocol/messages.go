package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientChat MessageType = "chat"

	TypeSessionEvent MessageType = "session"
	TypeTokenEvent   MessageType = "token"
	TypeDoneEvent    MessageType = "done"
	TypeErrorEvent   MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientChat is the one message clients send: a query, optionally pinned to
// an existing session or forced to a specific handler.
type ClientChat struct {
	Type       MessageType `json:"type"`
	Message    string      `json:"message"`
	SessionID  string      `json:"session_id,omitempty"`
	ForceAgent string      `json:"force_agent,omitempty"`
}

// SessionEvent announces the session id a reply will be recorded under. It
// is emitted only when the server minted a new session for the request.
type SessionEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// TokenEvent carries one streamed fragment of the assistant's reply.
type TokenEvent struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

// Routing is the wire form of a routing decision, shown on developer
// surfaces only.
type Routing struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// DoneEvent terminates one exchange. Message is the full assembled reply;
// clients that rendered TokenEvents can use it to reconcile.
type DoneEvent struct {
	Type       MessageType `json:"type"`
	Message    string      `json:"message"`
	SessionID  string      `json:"session_id"`
	Routing    *Routing    `json:"routing,omitempty"`
	TokensUsed int         `json:"tokens_used"`
	LatencyMS  float64     `json:"latency_ms"`
}

// ErrorEvent reports a failed exchange. The connection stays open; clients
// may retry when Retryable is set.
type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientChat:
		var msg ClientChat
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.Message) == "" {
			return nil, errors.New("invalid chat: message required")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
