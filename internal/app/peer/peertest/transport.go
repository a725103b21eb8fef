// Package peertest provides an in-memory PeerTransport that models the
// signaling state machine, so negotiation can be exercised without a
// network. Two transports joined with Connect become "connected" once both
// sides have applied a matching offer/answer pair, and their data channels
// are bridged.
package peertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
)

var ErrInvalidState = errors.New("invalid signaling state")

type Transport struct {
	name   string
	events *stream.Subject[core.TransportEvent]
	evCh   <-chan core.TransportEvent
	cancel context.CancelFunc

	mu              sync.Mutex
	seq             int
	signaling       domain.SignalingState
	connection      string
	ice             string
	gathering       string
	local, remote   *domain.SessionDescription
	remoteApplied   []domain.SessionDescription
	candidates      []*domain.ICECandidate
	addCandidateErr error
	iceRestarts     int
	stats           core.StatsReport
	channels        []*DataChannel
	peer            *Transport
	network         *Network
	closed          bool
}

var _ core.PeerTransport = (*Transport)(nil)

func NewTransport(name string) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		name:       name,
		events:     stream.NewSubject[core.TransportEvent](),
		cancel:     cancel,
		signaling:  domain.SignalingStateStable,
		connection: "new",
		ice:        "new",
		gathering:  "new",
	}
	t.evCh = t.events.Subscribe(ctx)
	return t
}

// Connect lets a and b reach the connected state with each other.
func Connect(a, b *Transport) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (t *Transport) Events() <-chan core.TransportEvent { return t.evCh }

// Emit injects a transport event as if the engine raised it.
func (t *Transport) Emit(ev core.TransportEvent) { t.events.Publish(ev) }

func (t *Transport) EmitCandidate(c *domain.ICECandidate) {
	t.Emit(core.TransportEvent{Kind: core.EventICECandidate, Candidate: c})
}

func (t *Transport) SetICEConnectionState(state string) {
	t.mu.Lock()
	t.ice = state
	t.mu.Unlock()
	t.Emit(core.TransportEvent{Kind: core.EventICEConnectionStateChange, State: state})
}

func (t *Transport) SetConnectionState(state string) {
	t.mu.Lock()
	t.connection = state
	t.mu.Unlock()
	t.Emit(core.TransportEvent{Kind: core.EventConnectionStateChange, State: state})
}

func (t *Transport) CreateOffer(context.Context) (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return domain.SessionDescription{}, ErrInvalidState
	}
	t.seq++
	return domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: fmt.Sprintf("offer:%s:%d", t.name, t.seq)}, nil
}

func (t *Transport) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.signaling != domain.SignalingStateHaveRemoteOffer {
		return domain.SessionDescription{}, fmt.Errorf("%w: create answer in %s", ErrInvalidState, t.signaling)
	}
	t.seq++
	return domain.SessionDescription{Type: domain.SDPTypeAnswer, SDP: fmt.Sprintf("answer:%s:%d", t.name, t.seq)}, nil
}

func (t *Transport) SetLocalDescription(_ context.Context, sd domain.SessionDescription) error {
	t.mu.Lock()
	switch {
	case sd.Type == domain.SDPTypeOffer && (t.signaling == domain.SignalingStateStable || t.signaling == domain.SignalingStateHaveLocalOffer):
		t.local = &sd
		t.signaling = domain.SignalingStateHaveLocalOffer
	case sd.Type == domain.SDPTypeAnswer && t.signaling == domain.SignalingStateHaveRemoteOffer:
		t.local = &sd
		t.signaling = domain.SignalingStateStable
	case sd.Type == domain.SDPTypeRollback && t.signaling == domain.SignalingStateHaveLocalOffer:
		t.local = nil
		t.signaling = domain.SignalingStateStable
	default:
		state := t.signaling
		t.mu.Unlock()
		return fmt.Errorf("%w: set local %s in %s", ErrInvalidState, sd.Type, state)
	}
	network := t.network
	t.mu.Unlock()
	if network != nil && sd.Type != domain.SDPTypeRollback {
		network.register(sd.SDP, t)
	}
	t.Emit(core.TransportEvent{Kind: core.EventSignalingStateChange, State: string(t.SignalingState())})
	t.maybeConnect()
	return nil
}

// SetRemoteDescription does not roll back implicitly: an offer in
// have-local-offer fails.
func (t *Transport) SetRemoteDescription(_ context.Context, sd domain.SessionDescription) error {
	t.mu.Lock()
	switch {
	case sd.Type == domain.SDPTypeOffer && t.signaling == domain.SignalingStateStable:
		t.remote = &sd
		t.signaling = domain.SignalingStateHaveRemoteOffer
	case sd.Type == domain.SDPTypeAnswer && t.signaling == domain.SignalingStateHaveLocalOffer:
		t.remote = &sd
		t.signaling = domain.SignalingStateStable
	default:
		state := t.signaling
		t.mu.Unlock()
		return fmt.Errorf("%w: set remote %s in %s", ErrInvalidState, sd.Type, state)
	}
	t.remoteApplied = append(t.remoteApplied, sd)
	network, linked := t.network, t.peer != nil
	t.mu.Unlock()
	if network != nil && !linked {
		if p := network.lookup(sd.SDP); p != nil && p != t {
			Connect(t, p)
		}
	}
	t.Emit(core.TransportEvent{Kind: core.EventSignalingStateChange, State: string(t.SignalingState())})
	t.maybeConnect()
	return nil
}

func (t *Transport) AddICECandidate(_ context.Context, c *domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.addCandidateErr != nil {
		return t.addCandidateErr
	}
	if t.remote == nil {
		return fmt.Errorf("%w: candidate without remote description", ErrInvalidState)
	}
	t.candidates = append(t.candidates, c)
	return nil
}

// FailCandidates makes every AddICECandidate return err.
func (t *Transport) FailCandidates(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.addCandidateErr = err
}

func (t *Transport) SignalingState() domain.SignalingState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.signaling
}

func (t *Transport) ConnectionState() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connection
}

func (t *Transport) ICEConnectionState() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ice
}

func (t *Transport) ICEGatheringState() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gathering
}

// CreateDataChannel requests negotiation like real engines do for the
// first channel.
func (t *Transport) CreateDataChannel(label string) (core.DataChannel, error) {
	dc := NewDataChannel(label)
	t.mu.Lock()
	t.channels = append(t.channels, dc)
	t.mu.Unlock()
	t.Emit(core.TransportEvent{Kind: core.EventNegotiationNeeded})
	return dc, nil
}

func (t *Transport) SetStats(report core.StatsReport) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = report
}

func (t *Transport) GetStats(context.Context) (core.StatsReport, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(core.StatsReport, len(t.stats))
	for k, v := range t.stats {
		out[k] = v
	}
	return out, nil
}

func (t *Transport) RestartICE() {
	t.mu.Lock()
	t.iceRestarts++
	t.mu.Unlock()
	t.Emit(core.TransportEvent{Kind: core.EventNegotiationNeeded})
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.signaling = domain.SignalingStateClosed
	t.connection = "closed"
	channels := append([]*DataChannel(nil), t.channels...)
	t.mu.Unlock()
	for _, dc := range channels {
		_ = dc.Close()
	}
	t.events.Complete()
	t.cancel()
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) LocalDescription() *domain.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *Transport) RemoteDescription() *domain.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

// RemoteApplied lists every remote description that was accepted.
func (t *Transport) RemoteApplied() []domain.SessionDescription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.SessionDescription(nil), t.remoteApplied...)
}

func (t *Transport) Candidates() []*domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*domain.ICECandidate(nil), t.candidates...)
}

func (t *Transport) ICERestarts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iceRestarts
}

// maybeConnect marks both sides connected once their descriptions mirror
// each other, then bridges the data channels.
func (t *Transport) maybeConnect() {
	t.mu.Lock()
	p := t.peer
	t.mu.Unlock()
	if p == nil {
		return
	}
	a, b := t.snapshot(), p.snapshot()
	if !a.ready || !b.ready || a.local != b.remote || a.remote != b.local {
		return
	}
	for _, side := range []*Transport{t, p} {
		side.SetICEConnectionState(domain.ICEStateConnected)
		side.SetConnectionState(domain.ConnectionStateConnected)
	}
	t.bridgeChannels(p)
	p.bridgeChannels(t)
}

type descSnapshot struct {
	ready         bool
	local, remote string
}

func (t *Transport) snapshot() descSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.local == nil || t.remote == nil || t.signaling != domain.SignalingStateStable || t.connection == domain.ConnectionStateConnected {
		return descSnapshot{}
	}
	return descSnapshot{ready: true, local: t.local.SDP, remote: t.remote.SDP}
}

// bridgeChannels announces every unbridged local channel to p as a remote
// channel and opens both ends.
func (t *Transport) bridgeChannels(p *Transport) {
	t.mu.Lock()
	channels := append([]*DataChannel(nil), t.channels...)
	t.mu.Unlock()
	for _, dc := range channels {
		if dc.hasPeer() {
			continue
		}
		remote := NewDataChannel(dc.Label())
		dc.link(remote)
		p.Emit(core.TransportEvent{Kind: core.EventDataChannel, Channel: remote})
		dc.Open()
		remote.Open()
	}
}
