package peertest

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
)

var ErrNotOpen = errors.New("data channel not open")

type DataChannel struct {
	label  string
	events *stream.Subject[core.DataChannelEvent]
	evCh   <-chan core.DataChannelEvent
	cancel context.CancelFunc

	mu    sync.Mutex
	state string
	sent  []string
	peer  *DataChannel
}

var _ core.DataChannel = (*DataChannel)(nil)

func NewDataChannel(label string) *DataChannel {
	ctx, cancel := context.WithCancel(context.Background())
	dc := &DataChannel{
		label:  label,
		events: stream.NewSubject[core.DataChannelEvent](),
		cancel: cancel,
		state:  "connecting",
	}
	dc.evCh = dc.events.Subscribe(ctx)
	return dc
}

func (d *DataChannel) Label() string { return d.label }

func (d *DataChannel) ReadyState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *DataChannel) Events() <-chan core.DataChannelEvent { return d.evCh }

func (d *DataChannel) Open() {
	d.mu.Lock()
	d.state = domain.DataChannelStateOpen
	d.mu.Unlock()
	d.events.Publish(core.DataChannelEvent{Kind: core.DataChannelOpened})
}

// Deliver injects an incoming text frame.
func (d *DataChannel) Deliver(data string) {
	d.events.Publish(core.DataChannelEvent{Kind: core.DataChannelMessage, Data: data})
}

func (d *DataChannel) SendText(s string) error {
	d.mu.Lock()
	if d.state != domain.DataChannelStateOpen {
		d.mu.Unlock()
		return ErrNotOpen
	}
	d.sent = append(d.sent, s)
	p := d.peer
	d.mu.Unlock()
	if p != nil {
		p.Deliver(s)
	}
	return nil
}

// Sent returns every frame written with SendText.
func (d *DataChannel) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func (d *DataChannel) Close() error {
	d.mu.Lock()
	if d.state == "closed" {
		d.mu.Unlock()
		return nil
	}
	d.state = "closed"
	p := d.peer
	d.mu.Unlock()
	d.events.Publish(core.DataChannelEvent{Kind: core.DataChannelClosed})
	d.events.Complete()
	d.cancel()
	if p != nil {
		_ = p.Close()
	}
	return nil
}

func (d *DataChannel) link(p *DataChannel) {
	d.mu.Lock()
	d.peer = p
	d.mu.Unlock()
	p.mu.Lock()
	p.peer = d
	p.mu.Unlock()
}

func (d *DataChannel) hasPeer() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peer != nil
}
