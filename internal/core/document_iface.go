package core

import (
	"context"

	"github.com/dkeye/Board/internal/domain"
)

// SynchronizedDocument is the replicated document as seen from this core.
type SynchronizedDocument[T any] interface {
	GetData() T
	PerformChange(fn func(doc *T))
	ObserveChanges(ctx context.Context) <-chan T
}

type WhiteboardInstance interface {
	ActiveSlideID() string
	SetActiveSlideID(id string)
	ObserveActiveSlideID(ctx context.Context) <-chan string
	ClearUndoManager()
}

// VisibilitySource reports whether the hosting surface is in the
// foreground. Observe replays the current state first.
type VisibilitySource interface {
	Visibility() domain.Visibility
	ObserveVisibility(ctx context.Context) <-chan domain.Visibility
}
