package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Envelope types (wire-stable).
const (
	// TypeMessage is an application message, in either direction.
	TypeMessage = "message"
	// TypeNotice is a server notice (session lifecycle events in structured form).
	TypeNotice = "notice"
	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical JSON wrapper for application frames.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}

	switch e.Type {
	case TypeMessage, TypeNotice, TypeError:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// NoticePayload carries a lifecycle event (FrameLogout, FrameSessionExpired).
type NoticePayload struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ParseEnvelope decodes and validates an envelope frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// ErrorFrame encodes an error envelope.
func ErrorFrame(code, message string, now time.Time) string {
	p, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	b, _ := json.Marshal(Envelope{V: Version, Type: TypeError, TS: now, Payload: p})
	return string(b)
}
