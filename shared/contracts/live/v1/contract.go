// Package v1 defines the live feed protocol v1 contract.
//
// It is shared between the server and tooling clients so the wire format
// has one authoritative definition.
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

// Subprotocol is negotiated during the WebSocket handshake.
const Subprotocol = "batepapo.live.v1"

// Type constants (wire-stable).
const (
	// TypeHelloAck confirms the subscription (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeHeartbeat keeps the subscriber's participant alive (client -> server).
	TypeHeartbeat = "heartbeat"
	// TypeHeartbeatAck confirms a heartbeat (server -> client).
	TypeHeartbeatAck = "heartbeat_ack"

	// TypeMessageNew announces a stored message (server -> client).
	TypeMessageNew = "message_new"
	// TypeMessageUpdated announces an edited message (server -> client).
	TypeMessageUpdated = "message_updated"
	// TypeMessageDeleted announces a removed message (server -> client).
	TypeMessageDeleted = "message_deleted"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
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
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHelloAck,
		TypeHeartbeat,
		TypeHeartbeatAck,
		TypeMessageNew,
		TypeMessageUpdated,
		TypeMessageDeleted,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloAckPayload identifies the live session.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	User      string `json:"user"`
}

// HeartbeatAckPayload names the participant whose lastStatus was refreshed.
type HeartbeatAckPayload struct {
	User string `json:"user"`
}

// MessagePayload mirrors the HTTP message representation.
type MessagePayload struct {
	ID   string `json:"_id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
