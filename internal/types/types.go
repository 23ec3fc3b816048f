// Package types holds the websocket wire messages between a kiosk display
// and the gateway.
package types

import (
	"time"

	"github.com/DoyleJ11/ecosmart-kiosk/internal/engine"
)

// Client -> server message types.
const (
	MsgPathChanged   = "PathChanged"
	MsgLogout        = "Logout"
	MsgScanCompleted = "ScanCompleted"
)

// Server -> client message types.
const (
	MsgSession   = "Session"
	MsgNavigate  = "Navigate"
	MsgCountdown = "Countdown"
	MsgError     = "Error"
)

type ClientMessage struct {
	Type   string `json:"type"`
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type ServerMessage struct {
	Type      string           `json:"type"`
	Version   int              `json:"version,omitempty"`
	Path      string           `json:"path,omitempty"`
	Target    engine.Location  `json:"target,omitempty"`
	Session   *engine.Snapshot `json:"session,omitempty"`
	Countdown *Countdown       `json:"countdown,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type Countdown struct {
	Reason   string     `json:"reason"`
	Armed    bool       `json:"armed"`
	Deadline *time.Time `json:"deadline,omitempty"`
	// RemainingMS is relative to when the message was written.
	RemainingMS int64 `json:"remaining_ms,omitempty"`
}

func ErrorMessage(msg string) ServerMessage {
	return ServerMessage{Type: MsgError, Error: msg}
}
