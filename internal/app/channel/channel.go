// Package channel owns every peer connection of the local participant. It
// follows presence to open and close connections, merges their messages and
// statistics, and suspends networking while the surface stays hidden.
package channel

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Board/internal/app/peer"
	"github.com/dkeye/Board/internal/app/signaling"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrNoSession = errors.New("no local session")
	ErrDestroyed = errors.New("communication channel destroyed")
)

const DefaultVisibilityTimeout = 30 * time.Second

// Sessions is the presence side the channel drives.
type Sessions interface {
	Join(ctx context.Context, wb domain.WhiteboardID) (domain.SessionID, error)
	Leave(ctx context.Context) error
	UserID() domain.UserID
	SessionID() domain.SessionID
	Sessions() []domain.SessionRecord
	// ObserveSessionEvents must deliver joined and left in the order they
	// happened.
	ObserveSessionEvents(ctx context.Context) <-chan domain.SessionEvent
}

type Config struct {
	// VisibilityTimeout is how long the surface must stay hidden before the
	// channel leaves.
	VisibilityTimeout time.Duration
	ReplayWindow      time.Duration
	Peer              peer.Config
}

type Channel struct {
	wb         domain.WhiteboardID
	sessions   Sessions
	relay      *signaling.Relay
	factory    core.PeerTransportFactory
	visibility core.VisibilitySource
	cfg        Config
	log        zerolog.Logger

	messages *stream.Subject[domain.Message]
	stats    *stream.Subject[domain.CommunicationChannelStatistics]
	observe  *stream.Subject[bool]

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu        sync.Mutex
	peers     map[domain.SessionID]*peer.Connection
	peerStats map[domain.ConnectionID]domain.PeerConnectionStatistics
	// statsOwner is the connection whose statistics fill peerStats[id]; a
	// replaced connection must not overwrite or remove its successor's entry.
	statsOwner map[domain.ConnectionID]*peer.Connection
	destroyed  bool
}

// Start joins wb and begins following presence. visibility may be nil.
func Start(
	ctx context.Context,
	wb domain.WhiteboardID,
	sessions Sessions,
	host core.ToDeviceTransport,
	factory core.PeerTransportFactory,
	visibility core.VisibilitySource,
	cfg Config,
) (*Channel, error) {
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = DefaultVisibilityTimeout
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		wb:         wb,
		sessions:   sessions,
		factory:    factory,
		visibility: visibility,
		cfg:        cfg,
		log:        log.With().Str("module", "channel").Str("whiteboard_id", string(wb)).Logger(),
		messages:   stream.NewSubject[domain.Message](),
		stats:      stream.NewBehaviorSubject(domain.CommunicationChannelStatistics{PeerConnections: map[domain.ConnectionID]domain.PeerConnectionStatistics{}}),
		observe:    stream.NewBehaviorSubject(true),
		ctx:        loopCtx,
		cancel:     cancel,
		peers:      make(map[domain.SessionID]*peer.Connection),
		peerStats:  make(map[domain.ConnectionID]domain.PeerConnectionStatistics),
		statsOwner: make(map[domain.ConnectionID]*peer.Connection),
	}
	c.relay = signaling.NewRelay(loopCtx, host, cfg.ReplayWindow)

	events := sessions.ObserveSessionEvents(loopCtx)
	c.wg.Go(func() { c.followPresence(events) })

	sid, err := sessions.Join(ctx, wb)
	if err != nil {
		cancel()
		c.wg.Wait()
		return nil, fmt.Errorf("join %s: %w", wb, err)
	}
	c.log.Info().Str("session_id", string(sid)).Msg("channel started")
	c.publishStats()

	if visibility != nil {
		vis := visibility.ObserveVisibility(loopCtx)
		toggle := c.observe.Subscribe(loopCtx)
		c.wg.Go(func() { c.followVisibility(vis, toggle) })
	}
	return c, nil
}

func (c *Channel) followPresence(events <-chan domain.SessionEvent) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case domain.SessionJoined:
				c.sessionJoined(e.Session)
			case domain.SessionLeft:
				c.sessionLeft(e.Session)
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Channel) sessionJoined(remote domain.Session) {
	local := domain.Session{UserID: c.sessions.UserID(), SessionID: c.sessions.SessionID()}
	if local.SessionID == "" || remote.SessionID == local.SessionID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	if _, ok := c.peers[remote.SessionID]; ok {
		return
	}
	transport, err := c.factory.NewPeerTransport(c.ctx)
	if err != nil {
		c.log.Error().Err(err).Str("remote_session_id", string(remote.SessionID)).Msg("create peer transport")
		return
	}
	connID := domain.NewConnectionID(local.SessionID, remote.SessionID)
	pc := peer.New(local, remote, transport, c.relay.Link(local.SessionID, remote, connID), c.cfg.Peer)
	c.peers[remote.SessionID] = pc

	msgs := pc.ObserveMessages(c.ctx)
	stats := pc.ObserveStatistics(c.ctx)
	c.wg.Go(func() {
		for m := range msgs {
			c.messages.Publish(m)
		}
	})
	c.wg.Go(func() {
		for s := range stats {
			c.mu.Lock()
			current := c.peers[remote.SessionID] == pc
			if current {
				c.peerStats[connID] = s
				c.statsOwner[connID] = pc
			}
			c.mu.Unlock()
			if current {
				c.publishStats()
			}
		}
		c.mu.Lock()
		if c.statsOwner[connID] == pc {
			delete(c.peerStats, connID)
			delete(c.statsOwner, connID)
		}
		c.mu.Unlock()
		c.publishStats()
	})
	c.log.Info().Str("remote_session_id", string(remote.SessionID)).Str("connection_id", string(connID)).Msg("peer added")
}

func (c *Channel) sessionLeft(remote domain.Session) {
	c.mu.Lock()
	pc, ok := c.peers[remote.SessionID]
	delete(c.peers, remote.SessionID)
	c.mu.Unlock()
	if !ok {
		c.publishStats()
		return
	}
	pc.Close()
	c.log.Info().Str("remote_session_id", string(remote.SessionID)).Msg("peer removed")
}

// BroadcastMessage sends to every peer whose data channel is open. Delivery
// is best effort.
func (c *Channel) BroadcastMessage(msgType string, content any) error {
	if c.sessions.SessionID() == "" {
		return ErrNoSession
	}
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	peers := slices.Collect(maps.Values(c.peers))
	c.mu.Unlock()

	for _, pc := range peers {
		err := pc.SendMessage(msgType, content)
		if err != nil && !errors.Is(err, peer.ErrChannelNotOpen) && !errors.Is(err, peer.ErrClosed) {
			c.log.Warn().Err(err).Str("connection_id", string(pc.ID())).Str("type", msgType).Msg("send failed")
		}
	}
	return nil
}

// ObserveMessages merges the messages of all peers.
func (c *Channel) ObserveMessages(ctx context.Context) <-chan domain.Message {
	return c.messages.Subscribe(ctx)
}

// Statistics returns a copy of the latest snapshot.
func (c *Channel) Statistics() domain.CommunicationChannelStatistics {
	s, _ := c.stats.Value()
	return s.Clone()
}

// ObserveStatistics yields the latest snapshot, then one per change. Each
// value is a private copy.
func (c *Channel) ObserveStatistics(ctx context.Context) <-chan domain.CommunicationChannelStatistics {
	in := c.stats.Subscribe(ctx)
	out := make(chan domain.CommunicationChannelStatistics)
	go func() {
		defer close(out)
		for s := range in {
			select {
			case out <- s.Clone():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// SetObserveVisibility enables or disables leaving while hidden.
func (c *Channel) SetObserveVisibility(enabled bool) {
	if v, ok := c.observe.Value(); ok && v == enabled {
		return
	}
	c.observe.Publish(enabled)
}

func (c *Channel) SessionID() domain.SessionID { return c.sessions.SessionID() }
func (c *Channel) UserID() domain.UserID       { return c.sessions.UserID() }

// Destroy leaves, closes every peer and completes the streams. Idempotent.
func (c *Channel) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.sessions.Leave(ctx); err != nil {
		c.log.Warn().Err(err).Msg("leave on destroy")
	}

	c.mu.Lock()
	peers := c.peers
	c.peers = make(map[domain.SessionID]*peer.Connection)
	c.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}

	c.cancel()
	c.wg.Wait()
	c.messages.Complete()
	c.stats.Complete()
	c.observe.Complete()
	c.log.Info().Msg("channel destroyed")
}

// publishStats emits a new snapshot when it differs from the last one.
func (c *Channel) publishStats() {
	c.mu.Lock()
	next := domain.CommunicationChannelStatistics{
		LocalSessionID:  c.sessions.SessionID(),
		PeerConnections: maps.Clone(c.peerStats),
		Sessions:        c.sessions.Sessions(),
	}
	last, _ := c.stats.Value()
	if next.LocalSessionID == last.LocalSessionID &&
		maps.Equal(next.PeerConnections, last.PeerConnections) &&
		slices.Equal(next.Sessions, last.Sessions) {
		c.mu.Unlock()
		return
	}
	c.stats.Publish(next)
	c.mu.Unlock()
}
