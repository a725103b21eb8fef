// Package visibility provides a VisibilitySource driven by the caller, for
// headless participants where "hidden" is a command rather than a window
// state.
package visibility

import (
	"context"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
)

type Manual struct {
	state *stream.Subject[domain.Visibility]
}

var _ core.VisibilitySource = (*Manual)(nil)

func NewManual() *Manual {
	return &Manual{state: stream.NewBehaviorSubject(domain.VisibilityVisible)}
}

func (m *Manual) Visibility() domain.Visibility {
	v, _ := m.state.Value()
	return v
}

// Set publishes v if it differs from the current state.
func (m *Manual) Set(v domain.Visibility) {
	if m.Visibility() == v {
		return
	}
	m.state.Publish(v)
}

func (m *Manual) ObserveVisibility(ctx context.Context) <-chan domain.Visibility {
	return m.state.Subscribe(ctx)
}

func (m *Manual) Close() { m.state.Complete() }
