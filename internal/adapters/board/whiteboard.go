package board

import (
	"context"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/stream"
	"github.com/rs/zerolog/log"
)

type Whiteboard struct {
	doc    *Document[Slides]
	active *stream.Subject[string]

	mu   sync.Mutex
	undo []Slides
}

var _ core.WhiteboardInstance = (*Whiteboard)(nil)

// NewWhiteboard creates a whiteboard with one empty slide per id; the first
// one is active.
func NewWhiteboard(slideIDs ...string) *Whiteboard {
	var initial Slides
	for _, id := range slideIDs {
		initial.Slides = append(initial.Slides, Slide{ID: id})
	}
	first := ""
	if len(slideIDs) > 0 {
		first = slideIDs[0]
	}
	w := &Whiteboard{
		doc:    NewDocument(initial),
		active: stream.NewBehaviorSubject(first),
	}
	w.doc.onWrite = w.pushUndo
	return w
}

func (w *Whiteboard) Document() core.SynchronizedDocument[Slides] { return w.doc }

func (w *Whiteboard) ActiveSlideID() string {
	id, _ := w.active.Value()
	return id
}

// SetActiveSlideID ignores unknown slides and repeated ids.
func (w *Whiteboard) SetActiveSlideID(id string) {
	if !w.doc.GetData().Has(id) {
		log.Debug().Str("module", "board").Str("slide_id", id).Msg("unknown slide")
		return
	}
	if w.ActiveSlideID() == id {
		return
	}
	w.active.Publish(id)
}

// ObserveActiveSlideID yields the current slide and every change.
func (w *Whiteboard) ObserveActiveSlideID(ctx context.Context) <-chan string {
	return w.active.Subscribe(ctx)
}

func (w *Whiteboard) AddSlide(id string) {
	w.doc.PerformChange(func(doc *Slides) {
		if !doc.Has(id) {
			doc.Slides = append(doc.Slides, Slide{ID: id})
		}
	})
}

// Draw appends an element to a slide.
func (w *Whiteboard) Draw(slideID, element string) {
	w.doc.PerformChange(func(doc *Slides) {
		for i := range doc.Slides {
			if doc.Slides[i].ID == slideID {
				doc.Slides[i].Elements = append(doc.Slides[i].Elements, element)
			}
		}
	})
}

func (w *Whiteboard) Undo() bool {
	w.mu.Lock()
	if len(w.undo) == 0 {
		w.mu.Unlock()
		return false
	}
	prev := w.undo[len(w.undo)-1]
	w.undo = w.undo[:len(w.undo)-1]
	w.mu.Unlock()
	w.doc.replace(prev)
	return true
}

func (w *Whiteboard) UndoDepth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.undo)
}

func (w *Whiteboard) ClearUndoManager() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.undo = nil
}

func (w *Whiteboard) pushUndo(before Slides) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.undo = append(w.undo, before)
}
