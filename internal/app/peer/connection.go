// Package peer implements one peer connection per remote session using the
// perfect negotiation pattern over an injected transport and signaler.
//
// All negotiation, candidate batching and statistics work happens on a
// single event loop goroutine per connection, so arrival order is
// processing order.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrChannelNotOpen = errors.New("data channel not open")
	ErrClosed         = errors.New("peer connection closed")
)

const DefaultChannelLabel = "whiteboard-v1"

// Signaler carries descriptions and candidate batches to and from the
// remote session of one connection.
type Signaler interface {
	SendDescription(ctx context.Context, sd domain.SessionDescription) error
	SendCandidates(ctx context.Context, candidates []*domain.ICECandidate) error
	Observe(ctx context.Context) <-chan domain.SignalingMessage
}

type Config struct {
	// CandidateBatchWindow bounds how long local candidates are held before
	// being sent as one batch.
	CandidateBatchWindow time.Duration
	StatsInterval        time.Duration
	// ChannelLabel tags the data channel; channels with another label are
	// ignored.
	ChannelLabel string
}

func DefaultConfig() Config {
	return Config{
		CandidateBatchWindow: 500 * time.Millisecond,
		StatsInterval:        time.Second,
		ChannelLabel:         DefaultChannelLabel,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.CandidateBatchWindow <= 0 {
		c.CandidateBatchWindow = def.CandidateBatchWindow
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = def.StatsInterval
	}
	if c.ChannelLabel == "" {
		c.ChannelLabel = def.ChannelLabel
	}
	return c
}

type Connection struct {
	local     domain.Session
	remote    domain.Session
	id        domain.ConnectionID
	cfg       Config
	transport core.PeerTransport
	signaler  Signaler
	log       zerolog.Logger

	messages   *stream.Subject[domain.Message]
	statistics *stream.Subject[domain.PeerConnectionStatistics]

	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	channel core.DataChannel
	closed  bool

	// loop-owned
	neg        negotiation
	pending    []*domain.ICECandidate
	flushTimer *time.Timer
	flushC     <-chan time.Time
	channelEvs <-chan core.DataChannelEvent
	snapshot   domain.PeerConnectionStatistics
}

// New starts a connection from local to remote. The impolite side opens the
// data channel immediately, which triggers the first negotiation.
func New(local, remote domain.Session, transport core.PeerTransport, signaler Signaler, cfg Config) *Connection {
	cfg = cfg.withDefaults()
	role := domain.RoleFor(local.SessionID, remote.SessionID)
	c := &Connection{
		local:     local,
		remote:    remote,
		id:        domain.NewConnectionID(local.SessionID, remote.SessionID),
		cfg:       cfg,
		transport: transport,
		signaler:  signaler,
		messages:  stream.NewSubject[domain.Message](),
		done:      make(chan struct{}),
		neg:       negotiation{role: role},
	}
	c.log = log.With().
		Str("module", "peer").
		Str("connection_id", string(c.id)).
		Str("remote_session_id", string(remote.SessionID)).
		Str("role", role.String()).
		Logger()
	c.snapshot = domain.PeerConnectionStatistics{
		RemoteUserID:    remote.UserID,
		RemoteSessionID: remote.SessionID,
		Impolite:        role == domain.RoleImpolite,
	}
	c.readStates()
	c.statistics = stream.NewBehaviorSubject(c.snapshot)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	signals := signaler.Observe(ctx)

	if role == domain.RoleImpolite {
		dc, err := transport.CreateDataChannel(cfg.ChannelLabel)
		if err != nil {
			c.log.Error().Err(err).Msg("create data channel")
		} else {
			c.attachChannel(dc)
		}
	}

	go c.run(ctx, signals)
	c.log.Info().Msg("peer connection created")
	return c
}

func (c *Connection) ID() domain.ConnectionID { return c.id }
func (c *Connection) Remote() domain.Session  { return c.remote }
func (c *Connection) Role() domain.Role       { return c.neg.role }

// ObserveMessages yields validated frames from the remote side until close.
func (c *Connection) ObserveMessages(ctx context.Context) <-chan domain.Message {
	return c.messages.Subscribe(ctx)
}

// ObserveStatistics yields the latest snapshot and every change after it.
// The channel closes when the connection closes.
func (c *Connection) ObserveStatistics(ctx context.Context) <-chan domain.PeerConnectionStatistics {
	return c.statistics.Subscribe(ctx)
}

func (c *Connection) Statistics() domain.PeerConnectionStatistics {
	s, _ := c.statistics.Value()
	return s
}

func (c *Connection) IsConnected() bool {
	return c.Statistics().IsPeerConnected()
}

// SendMessage frames {type, content} onto the data channel.
func (c *Connection) SendMessage(msgType string, content any) error {
	data, err := encodeFrame(msgType, content)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.channel == nil || c.channel.ReadyState() != domain.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return c.channel.SendText(data)
}

// Close stops the loop, closes the transport and completes all streams.
// Idempotent.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	<-c.done
}

func (c *Connection) attachChannel(dc core.DataChannel) {
	c.mu.Lock()
	c.channel = dc
	c.mu.Unlock()
	c.channelEvs = dc.Events()
	c.snapshot.DataChannelState = dc.ReadyState()
}

func (c *Connection) run(ctx context.Context, signals <-chan domain.SignalingMessage) {
	defer close(c.done)
	defer c.teardown()

	events := c.transport.Events()
	ticker := time.NewTicker(c.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleTransportEvent(ctx, ev)
		case m, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			c.handleSignaling(ctx, m)
		case ev, ok := <-c.channelEvs:
			if !ok {
				c.channelEvs = nil
				continue
			}
			c.handleChannelEvent(ev)
		case <-c.flushC:
			c.flushCandidates(ctx)
		case <-ticker.C:
			c.pollStats(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Connection) teardown() {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
	}
	c.mu.Lock()
	dc := c.channel
	c.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
	if err := c.transport.Close(); err != nil {
		c.log.Debug().Err(err).Msg("close transport")
	}
	c.messages.Complete()
	c.statistics.Complete()
	c.log.Info().Msg("peer connection closed")
}

func (c *Connection) handleTransportEvent(ctx context.Context, ev core.TransportEvent) {
	switch ev.Kind {
	case core.EventNegotiationNeeded:
		c.negotiate(ctx)
	case core.EventICECandidate:
		c.queueCandidate(ctx, ev.Candidate)
	case core.EventICEConnectionStateChange:
		if ev.State == domain.ICEStateFailed {
			c.log.Warn().Msg("ice failed, restarting")
			c.transport.RestartICE()
		}
	case core.EventDataChannel:
		c.acceptChannel(ev.Channel)
	}
	c.publishStats()
}

// negotiate sends a fresh local offer.
func (c *Connection) negotiate(ctx context.Context) {
	c.neg.makingOffer = true
	defer func() { c.neg.makingOffer = false }()

	offer, err := c.transport.CreateOffer(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("create offer")
		return
	}
	if err := c.transport.SetLocalDescription(ctx, offer); err != nil {
		c.log.Warn().Err(err).Msg("set local offer")
		return
	}
	if err := c.signaler.SendDescription(ctx, offer); err != nil {
		c.log.Warn().Err(err).Msg("send offer")
		return
	}
	c.log.Debug().Msg("offer sent")
}

func (c *Connection) handleSignaling(ctx context.Context, m domain.SignalingMessage) {
	if m.Description != nil {
		c.handleDescription(ctx, *m.Description)
	}
	if len(m.Candidates) > 0 {
		if err := c.addCandidates(ctx, m.Candidates); err != nil {
			c.log.Warn().Err(err).Msg("add remote candidates")
		}
	}
	c.publishStats()
}

func (c *Connection) handleDescription(ctx context.Context, sd domain.SessionDescription) {
	apply, rollback := c.neg.remoteDescription(sd, c.transport.SignalingState())
	if !apply {
		c.log.Debug().Msg("ignoring colliding offer")
		return
	}
	if rollback {
		if err := c.transport.SetLocalDescription(ctx, domain.SessionDescription{Type: domain.SDPTypeRollback}); err != nil {
			c.log.Warn().Err(err).Msg("rollback local offer")
			return
		}
	}
	if err := c.transport.SetRemoteDescription(ctx, sd); err != nil {
		c.log.Warn().Err(err).Str("type", string(sd.Type)).Msg("set remote description")
		return
	}
	if sd.Type != domain.SDPTypeOffer {
		return
	}
	answer, err := c.transport.CreateAnswer(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("create answer")
		return
	}
	if err := c.transport.SetLocalDescription(ctx, answer); err != nil {
		c.log.Warn().Err(err).Msg("set local answer")
		return
	}
	if err := c.signaler.SendDescription(ctx, answer); err != nil {
		c.log.Warn().Err(err).Msg("send answer")
	}
}

// addCandidates applies in order. Failures are expected, and swallowed,
// while the offer they belong to was ignored.
func (c *Connection) addCandidates(ctx context.Context, candidates []*domain.ICECandidate) error {
	for _, cand := range candidates {
		if err := c.transport.AddICECandidate(ctx, cand); err != nil {
			if c.neg.ignoreOffer {
				continue
			}
			return err
		}
	}
	return nil
}

func (c *Connection) queueCandidate(ctx context.Context, cand *domain.ICECandidate) {
	c.pending = append(c.pending, cand)
	if domain.IsEndOfCandidates(cand) {
		c.flushCandidates(ctx)
		return
	}
	if c.flushTimer == nil {
		c.flushTimer = time.NewTimer(c.cfg.CandidateBatchWindow)
		c.flushC = c.flushTimer.C
	}
}

func (c *Connection) flushCandidates(ctx context.Context) {
	if c.flushTimer != nil {
		c.flushTimer.Stop()
		c.flushTimer, c.flushC = nil, nil
	}
	if len(c.pending) == 0 {
		return
	}
	batch := c.pending
	c.pending = nil
	if err := c.signaler.SendCandidates(ctx, batch); err != nil {
		c.log.Warn().Err(err).Int("candidates", len(batch)).Msg("send candidates")
	}
}

func (c *Connection) acceptChannel(dc core.DataChannel) {
	if dc == nil {
		return
	}
	if c.neg.role == domain.RoleImpolite {
		c.log.Debug().Str("label", dc.Label()).Msg("impolite side ignores remote data channel")
		return
	}
	if dc.Label() != c.cfg.ChannelLabel {
		c.log.Warn().Str("label", dc.Label()).Msg("ignoring data channel with unexpected label")
		return
	}
	c.attachChannel(dc)
	c.log.Debug().Msg("data channel accepted")
}

func (c *Connection) handleChannelEvent(ev core.DataChannelEvent) {
	switch ev.Kind {
	case core.DataChannelMessage:
		msg, err := decodeFrame(ev.Data, c.remote)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping frame")
			return
		}
		c.messages.Publish(msg)
		return
	case core.DataChannelOpened:
		c.log.Info().Msg("data channel open")
	case core.DataChannelClosed:
		c.log.Info().Msg("data channel closed")
	}
	c.publishStats()
}

func (c *Connection) pollStats(ctx context.Context) {
	report, err := c.transport.GetStats(ctx)
	if err != nil {
		c.log.Debug().Err(err).Msg("get stats")
	} else {
		applyReport(&c.snapshot, report)
	}
	c.publishStats()
}

func (c *Connection) readStates() {
	c.snapshot.ConnectionState = c.transport.ConnectionState()
	c.snapshot.SignalingState = string(c.transport.SignalingState())
	c.snapshot.ICEConnectionState = c.transport.ICEConnectionState()
	c.snapshot.ICEGatheringState = c.transport.ICEGatheringState()
	c.mu.Lock()
	if c.channel != nil {
		c.snapshot.DataChannelState = c.channel.ReadyState()
	}
	c.mu.Unlock()
}

// publishStats emits the snapshot if it changed since the last emission.
func (c *Connection) publishStats() {
	c.readStates()
	if last, ok := c.statistics.Value(); ok && last == c.snapshot {
		return
	}
	c.statistics.Publish(c.snapshot)
}
