package ipc

import "encoding/json"

// Message types on the control pipe. Every request is answered with the
// matching result type and the request's ID.
const (
	TypePing          = "ping"
	TypePong          = "pong"
	TypeAction        = "action"
	TypeActionResult  = "action_result"
	TypeStatus        = "status"
	TypeStatusResult  = "status_result"
	TypeFeature       = "feature"
	TypeFeatureResult = "feature_result"
	TypeError         = "error"
)

// MaxMessageSize is the largest envelope accepted on the pipe (1MB).
const MaxMessageSize = 1024 * 1024

// ProtocolVersion is the current control protocol version.
const ProtocolVersion = 1

// Envelope is the wire-format wrapper for all control messages.
type Envelope struct {
	ID      string          `json:"id"`
	Seq     uint64          `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	ProtocolVersion int    `json:"protocolVersion"`
	PID             int    `json:"pid"`
	Session         string `json:"session,omitempty"`
}

// ActionRequest asks the overlay to run a named action, as a keybind would.
type ActionRequest struct {
	Action string `json:"action"`
}

// ActionResult reports that the action was accepted.
type ActionResult struct {
	Action string `json:"action"`
	Queued bool   `json:"queued"`
}

// FeatureRequest sets a feature switch. A nil Enabled only reads the
// switches.
type FeatureRequest struct {
	Name    string `json:"name,omitempty"`
	Enabled *bool  `json:"enabled,omitempty"`
}

// FeatureResult carries every feature switch after the request.
type FeatureResult struct {
	Features map[string]bool `json:"features"`
}
