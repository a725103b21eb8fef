package rtc

import (
	"context"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/stream"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type dataChannel struct {
	dc     *webrtc.DataChannel
	events *stream.Subject[core.DataChannelEvent]
	evCh   <-chan core.DataChannelEvent
	cancel context.CancelFunc
	once   sync.Once
}

var _ core.DataChannel = (*dataChannel)(nil)

func wrapDataChannel(dc *webrtc.DataChannel) *dataChannel {
	ctx, cancel := context.WithCancel(context.Background())
	w := &dataChannel{
		dc:     dc,
		events: stream.NewSubject[core.DataChannelEvent](),
		cancel: cancel,
	}
	w.evCh = w.events.Subscribe(ctx)

	dc.OnOpen(func() {
		w.events.Publish(core.DataChannelEvent{Kind: core.DataChannelOpened})
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			log.Debug().Str("module", "rtc").Str("label", dc.Label()).Int("bytes", len(msg.Data)).Msg("dropping binary frame")
			return
		}
		w.events.Publish(core.DataChannelEvent{Kind: core.DataChannelMessage, Data: string(msg.Data)})
	})
	dc.OnClose(w.finish)
	return w
}

func (w *dataChannel) Label() string      { return w.dc.Label() }
func (w *dataChannel) ReadyState() string { return w.dc.ReadyState().String() }

func (w *dataChannel) SendText(s string) error { return w.dc.SendText(s) }

func (w *dataChannel) Events() <-chan core.DataChannelEvent { return w.evCh }

// Close closes the channel locally. Events not yet read are discarded.
func (w *dataChannel) Close() error {
	err := w.dc.Close()
	w.release()
	return err
}

// release completes the stream and stops its delivery goroutine.
func (w *dataChannel) release() {
	w.finish()
	w.cancel()
}

// finish emits Closed once and completes the event stream. The subscription
// stays alive so a reader still gets Closed after a remote close.
func (w *dataChannel) finish() {
	w.once.Do(func() {
		w.events.Publish(core.DataChannelEvent{Kind: core.DataChannelClosed})
		w.events.Complete()
	})
}
