package peer

import (
	"context"
	"sync"

	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
)

// pipeSignaler records what it sends and forwards it to its counterpart.
type pipeSignaler struct {
	inbox *stream.Subject[domain.SignalingMessage]
	// subscribed eagerly so nothing sent before Observe is lost
	inboxCh <-chan domain.SignalingMessage

	mu      sync.Mutex
	other   *pipeSignaler
	descs   []domain.SessionDescription
	batches [][]*domain.ICECandidate
}

func newSignaler() *pipeSignaler {
	p := &pipeSignaler{inbox: stream.NewSubject[domain.SignalingMessage]()}
	p.inboxCh = p.inbox.Subscribe(context.Background())
	return p
}

func pipePair() (*pipeSignaler, *pipeSignaler) {
	a, b := newSignaler(), newSignaler()
	link(a, b)
	return a, b
}

func link(a, b *pipeSignaler) {
	a.mu.Lock()
	a.other = b
	a.mu.Unlock()
	b.mu.Lock()
	b.other = a
	b.mu.Unlock()
}

func (p *pipeSignaler) SendDescription(_ context.Context, sd domain.SessionDescription) error {
	p.mu.Lock()
	p.descs = append(p.descs, sd)
	other := p.other
	p.mu.Unlock()
	if other != nil {
		other.inbox.Publish(domain.SignalingMessage{Description: &sd})
	}
	return nil
}

func (p *pipeSignaler) SendCandidates(_ context.Context, candidates []*domain.ICECandidate) error {
	p.mu.Lock()
	p.batches = append(p.batches, candidates)
	other := p.other
	p.mu.Unlock()
	if other != nil {
		other.inbox.Publish(domain.SignalingMessage{Candidates: candidates})
	}
	return nil
}

func (p *pipeSignaler) Observe(context.Context) <-chan domain.SignalingMessage {
	return p.inboxCh
}

// push delivers a message as if the remote side sent it.
func (p *pipeSignaler) push(m domain.SignalingMessage) { p.inbox.Publish(m) }

func (p *pipeSignaler) sent() []domain.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.SessionDescription(nil), p.descs...)
}

func (p *pipeSignaler) candidateBatches() [][]*domain.ICECandidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]*domain.ICECandidate(nil), p.batches...)
}
