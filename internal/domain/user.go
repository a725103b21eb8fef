// Package domain contains entities without behaviour beyond pure helpers.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxUserIDLen    = 255
	MaxSessionIDLen = 64
)

var (
	ErrUserIDEmpty   = errors.New("user id empty")
	ErrUserIDTooLong = errors.New("user id too long")
)

type (
	UserID       string
	SessionID    string
	WhiteboardID string
)

// NewSessionID returns a fresh random session id.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func ValidateUserID(id UserID) error {
	if len(id) == 0 {
		return ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	return nil
}

// Session identifies one participant's one live connection context.
type Session struct {
	UserID    UserID    `json:"userId"`
	SessionID SessionID `json:"sessionId"`
}

type SessionEventKind int

const (
	SessionJoined SessionEventKind = iota
	SessionLeft
)

func (k SessionEventKind) String() string {
	if k == SessionLeft {
		return "left"
	}
	return "joined"
}

// SessionEvent is one presence change of a remote session.
type SessionEvent struct {
	Kind    SessionEventKind
	Session Session
}

// ErrWhiteboardLocked is returned by hosts that refuse new sessions in a
// locked whiteboard.
var ErrWhiteboardLocked = errors.New("whiteboard is locked")
