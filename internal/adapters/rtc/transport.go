// Package rtc implements the peer transport port on pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var errNoPendingOffer = errors.New("rollback without a pending local offer")

// Factory creates pion peer connections sharing one API and configuration.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

var _ core.PeerTransportFactory = (*Factory)(nil)

// Option tweaks the pion setting engine.
type Option func(*webrtc.SettingEngine)

// WithLoopbackCandidates gathers 127.0.0.1 candidates too, for single-host
// runs.
func WithLoopbackCandidates() Option {
	return func(se *webrtc.SettingEngine) { se.SetIncludeLoopbackCandidate(true) }
}

func NewFactory(servers []ICEServer, loggers logging.LoggerFactory, opts ...Option) *Factory {
	se := webrtc.SettingEngine{LoggerFactory: loggers}
	for _, opt := range opts {
		opt(&se)
	}
	return &Factory{
		api: webrtc.NewAPI(webrtc.WithSettingEngine(se)),
		cfg: Configuration(servers),
	}
}

func (f *Factory) NewPeerTransport(_ context.Context) (core.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newTransport(pc), nil
}

// Transport adapts a *webrtc.PeerConnection. Pion callbacks are turned into
// TransportEvents on an unbounded queue so they never block pion.
type Transport struct {
	pc     *webrtc.PeerConnection
	log    zerolog.Logger
	events *stream.Subject[core.TransportEvent]
	evCh   <-chan core.TransportEvent
	cancel context.CancelFunc

	mu         sync.Mutex
	iceRestart bool
	channels   []*dataChannel
	closed     bool
}

var _ core.PeerTransport = (*Transport)(nil)

func newTransport(pc *webrtc.PeerConnection) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		pc:     pc,
		log:    log.With().Str("module", "rtc").Logger(),
		events: stream.NewSubject[core.TransportEvent](),
		cancel: cancel,
	}
	t.evCh = t.events.Subscribe(ctx)

	pc.OnNegotiationNeeded(func() {
		t.events.Publish(core.TransportEvent{Kind: core.EventNegotiationNeeded})
	})
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			t.events.Publish(core.TransportEvent{Kind: core.EventICECandidate})
			return
		}
		ci := c.ToJSON()
		t.events.Publish(core.TransportEvent{Kind: core.EventICECandidate, Candidate: &domain.ICECandidate{
			Candidate:        ci.Candidate,
			SDPMid:           ci.SDPMid,
			SDPMLineIndex:    ci.SDPMLineIndex,
			UsernameFragment: ci.UsernameFragment,
		}})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.events.Publish(core.TransportEvent{Kind: core.EventConnectionStateChange, State: s.String()})
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.events.Publish(core.TransportEvent{Kind: core.EventICEConnectionStateChange, State: s.String()})
	})
	pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		t.events.Publish(core.TransportEvent{Kind: core.EventICEGatheringStateChange, State: s.String()})
	})
	pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		t.events.Publish(core.TransportEvent{Kind: core.EventSignalingStateChange, State: s.String()})
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		t.events.Publish(core.TransportEvent{Kind: core.EventDataChannel, Channel: t.track(dc)})
	})
	return t
}

func (t *Transport) Events() <-chan core.TransportEvent { return t.evCh }

func (t *Transport) CreateOffer(_ context.Context) (domain.SessionDescription, error) {
	t.mu.Lock()
	restart := t.iceRestart
	t.iceRestart = false
	t.mu.Unlock()

	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: restart})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}
	return fromPion(offer), nil
}

func (t *Transport) CreateAnswer(_ context.Context) (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}
	return fromPion(answer), nil
}

// SetLocalDescription accepts an SDP-less rollback; pion needs the pending
// offer to parse, so it is filled in here.
func (t *Transport) SetLocalDescription(_ context.Context, sd domain.SessionDescription) error {
	desc := toPion(sd)
	if desc.Type == webrtc.SDPTypeRollback && desc.SDP == "" {
		pending := t.pc.PendingLocalDescription()
		if pending == nil {
			return errNoPendingOffer
		}
		desc.SDP = pending.SDP
	}
	if err := t.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("set local %s: %w", sd.Type, err)
	}
	return nil
}

func (t *Transport) SetRemoteDescription(_ context.Context, sd domain.SessionDescription) error {
	if err := t.pc.SetRemoteDescription(toPion(sd)); err != nil {
		return fmt.Errorf("set remote %s: %w", sd.Type, err)
	}
	return nil
}

// AddICECandidate ignores end-of-candidates markers; pion infers the end of
// gathering from the connectivity checks.
func (t *Transport) AddICECandidate(_ context.Context, c *domain.ICECandidate) error {
	if domain.IsEndOfCandidates(c) {
		return nil
	}
	err := t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
	if err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

func (t *Transport) SignalingState() domain.SignalingState {
	return domain.SignalingState(t.pc.SignalingState().String())
}

func (t *Transport) ConnectionState() string    { return t.pc.ConnectionState().String() }
func (t *Transport) ICEConnectionState() string { return t.pc.ICEConnectionState().String() }
func (t *Transport) ICEGatheringState() string  { return t.pc.ICEGatheringState().String() }

func (t *Transport) CreateDataChannel(label string) (core.DataChannel, error) {
	dc, err := t.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, fmt.Errorf("create data channel %q: %w", label, err)
	}
	return t.track(dc), nil
}

func (t *Transport) GetStats(_ context.Context) (core.StatsReport, error) {
	if t.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
		return nil, webrtc.ErrConnectionClosed
	}
	var selected string
	if sctp := t.pc.SCTP(); sctp != nil && sctp.Transport() != nil && sctp.Transport().ICETransport() != nil {
		if pair, ok := sctp.Transport().ICETransport().GetSelectedCandidatePairStats(); ok {
			selected = pair.ID
		}
	}
	return convertStats(t.pc.GetStats(), selected), nil
}

func (t *Transport) RestartICE() {
	t.mu.Lock()
	t.iceRestart = true
	t.mu.Unlock()
	t.log.Info().Msg("ice restart requested")
	t.events.Publish(core.TransportEvent{Kind: core.EventNegotiationNeeded})
}

// Close closes the peer connection and completes every event stream. Events
// not yet read are discarded.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channels := t.channels
	t.channels = nil
	t.mu.Unlock()

	err := t.pc.Close()
	for _, dc := range channels {
		dc.release()
	}
	t.events.Complete()
	t.cancel()
	if err != nil {
		return fmt.Errorf("close peer connection: %w", err)
	}
	return nil
}

func (t *Transport) track(dc *webrtc.DataChannel) *dataChannel {
	w := wrapDataChannel(dc)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		w.release()
		return w
	}
	t.channels = append(t.channels, w)
	return w
}

func toPion(sd domain.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.NewSDPType(string(sd.Type)), SDP: sd.SDP}
}

func fromPion(sd webrtc.SessionDescription) domain.SessionDescription {
	return domain.SessionDescription{Type: domain.SDPType(sd.Type.String()), SDP: sd.SDP}
}
