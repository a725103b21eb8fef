// Package board is an in-memory whiteboard: a slides document that records
// undo history and tracks the active slide.
package board

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/stream"
)

type Cloner[T any] interface {
	Clone() T
}

// Document is a local SynchronizedDocument. Observers get a copy per change.
type Document[T Cloner[T]] struct {
	mu      sync.RWMutex
	data    T
	changes *stream.Subject[T]
	onWrite func(before T)
}

var _ core.SynchronizedDocument[Slides] = (*Document[Slides])(nil)

func NewDocument[T Cloner[T]](initial T) *Document[T] {
	return &Document[T]{data: initial, changes: stream.NewSubject[T]()}
}

func (d *Document[T]) GetData() T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.data.Clone()
}

func (d *Document[T]) PerformChange(fn func(doc *T)) {
	d.mu.Lock()
	before := d.data.Clone()
	fn(&d.data)
	after := d.data.Clone()
	onWrite := d.onWrite
	d.mu.Unlock()
	if onWrite != nil {
		onWrite(before)
	}
	d.changes.Publish(after)
}

func (d *Document[T]) ObserveChanges(ctx context.Context) <-chan T {
	return d.changes.Subscribe(ctx)
}

func (d *Document[T]) replace(v T) {
	d.mu.Lock()
	d.data = v.Clone()
	d.mu.Unlock()
	d.changes.Publish(v.Clone())
}

type Slide struct {
	ID       string   `json:"id"`
	Elements []string `json:"elements"`
}

// Slides is the document model: ordered slides.
type Slides struct {
	Slides []Slide `json:"slides"`
}

func (s Slides) Clone() Slides {
	out := Slides{Slides: make([]Slide, len(s.Slides))}
	for i, sl := range s.Slides {
		out.Slides[i] = Slide{ID: sl.ID, Elements: slices.Clone(sl.Elements)}
	}
	return out
}

func (s Slides) Has(id string) bool {
	return slices.ContainsFunc(s.Slides, func(sl Slide) bool { return sl.ID == id })
}

func (s Slides) IDs() []string {
	ids := make([]string, len(s.Slides))
	for i, sl := range s.Slides {
		ids[i] = sl.ID
	}
	return ids
}
