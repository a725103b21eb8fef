package signal

import (
	"encoding/json"

	"github.com/dkeye/Board/internal/domain"
)

// Frame types exchanged over /api/ws.
const (
	FrameStateRead        = "state_read"
	FrameStateWrite       = "state_write"
	FrameStateSubscribe   = "state_subscribe"
	FrameStateUnsubscribe = "state_unsubscribe"
	FrameToDevice         = "to_device"
	FramePing             = "ping"

	FrameState = "state"
	FramePong  = "pong"
	FrameError = "error"
)

// Error codes carried in error frames.
const (
	ErrCodeBadPayload  = "bad_payload"
	ErrCodeLocked      = "locked"
	ErrCodeRateLimited = "rate_limited"
	ErrCodeInternal    = "internal"
	ErrCodeUnknownType = "unknown_type"
)

// Frame is the single envelope for both directions. ID correlates a request
// with its state or error reply; pushes carry no ID.
type Frame struct {
	Type    string              `json:"type"`
	ID      uint64              `json:"id,omitempty"`
	Room    domain.WhiteboardID `json:"room,omitempty"`
	Rows    domain.PresenceRows `json:"rows,omitempty"`
	To      domain.UserID       `json:"to,omitempty"`
	Sender  domain.UserID       `json:"sender,omitempty"`
	Event   string              `json:"event,omitempty"`
	Content json.RawMessage     `json:"content,omitempty"`
	Error   string              `json:"error,omitempty"`
}
