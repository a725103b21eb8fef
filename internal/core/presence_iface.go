package core

import (
	"context"

	"github.com/dkeye/Board/internal/domain"
)

// PresenceTable is the host's state-event store scoped to one whiteboard
// room: every user reads all rows and writes only its own.
type PresenceTable interface {
	// UserID is the identity the host authenticated this client as.
	UserID() domain.UserID
	ReadRows(ctx context.Context, wb domain.WhiteboardID) (domain.PresenceRows, error)
	// WriteOwnRow replaces the caller's row. Last write wins.
	WriteOwnRow(ctx context.Context, wb domain.WhiteboardID, entries []domain.PresenceEntry) error
	// ObserveRows yields the full table after every change until ctx ends.
	ObserveRows(ctx context.Context, wb domain.WhiteboardID) (<-chan domain.PresenceRows, error)
}
