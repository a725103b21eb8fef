// Package signaling relays session descriptions and ICE candidate batches
// between peers over the host's to-device messages.
//
// Received messages are kept for a short replay window so a connection that
// starts observing after its counterpart already sent an offer still gets it.
package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType is the to-device event carrying signaling envelopes.
const EventType = "net.board.signaling"

const DefaultReplayWindow = 10 * time.Second

// Envelope is the to-device payload.
type Envelope struct {
	ID              string                     `json:"id"`
	SenderSessionID domain.SessionID           `json:"senderSessionId"`
	TargetSessionID domain.SessionID           `json:"targetSessionId"`
	ConnectionID    domain.ConnectionID        `json:"connectionId"`
	Description     *domain.SessionDescription `json:"description,omitempty"`
	Candidates      []*domain.ICECandidate     `json:"candidates,omitempty"`
}

type received struct {
	at     time.Time
	sender domain.UserID
	env    Envelope
}

type subscriber struct {
	from   domain.Session
	connID domain.ConnectionID
	out    *stream.Subject[domain.SignalingMessage]
}

func (s *subscriber) matches(r received) bool {
	return r.sender == s.from.UserID &&
		r.env.SenderSessionID == s.from.SessionID &&
		r.env.ConnectionID == s.connID
}

type Relay struct {
	transport core.ToDeviceTransport
	window    time.Duration
	now       func() time.Time
	log       zerolog.Logger

	mu     sync.Mutex
	buffer []received
	seen   map[string]time.Time
	subs   map[*subscriber]struct{}
}

// NewRelay starts consuming signaling messages; it stops when ctx ends.
func NewRelay(ctx context.Context, transport core.ToDeviceTransport, window time.Duration) *Relay {
	if window <= 0 {
		window = DefaultReplayWindow
	}
	r := &Relay{
		transport: transport,
		window:    window,
		now:       time.Now,
		log:       log.With().Str("module", "signaling").Logger(),
		seen:      make(map[string]time.Time),
		subs:      make(map[*subscriber]struct{}),
	}
	in := transport.ObserveToDevice(ctx, EventType)
	go r.run(ctx, in)
	return r
}

func (r *Relay) SendDescription(ctx context.Context, from domain.SessionID, to domain.Session, connID domain.ConnectionID, sd domain.SessionDescription) error {
	return r.send(ctx, to, Envelope{
		SenderSessionID: from,
		TargetSessionID: to.SessionID,
		ConnectionID:    connID,
		Description:     &sd,
	})
}

func (r *Relay) SendCandidates(ctx context.Context, from domain.SessionID, to domain.Session, connID domain.ConnectionID, candidates []*domain.ICECandidate) error {
	return r.send(ctx, to, Envelope{
		SenderSessionID: from,
		TargetSessionID: to.SessionID,
		ConnectionID:    connID,
		Candidates:      candidates,
	})
}

func (r *Relay) send(ctx context.Context, to domain.Session, env Envelope) error {
	env.ID = ulid.Make().String()
	if err := r.transport.SendToDevice(ctx, to.UserID, EventType, env); err != nil {
		return fmt.Errorf("send signaling to %s/%s: %w", to.UserID, to.SessionID, err)
	}
	return nil
}

// ObserveSignaling yields messages sent by from on connID, starting with
// those received within the replay window.
func (r *Relay) ObserveSignaling(ctx context.Context, from domain.Session, connID domain.ConnectionID) <-chan domain.SignalingMessage {
	sub := &subscriber{from: from, connID: connID, out: stream.NewSubject[domain.SignalingMessage]()}
	ch := sub.out.Subscribe(ctx)

	r.mu.Lock()
	r.pruneLocked()
	for _, rec := range r.buffer {
		if sub.matches(rec) {
			sub.out.Publish(toMessage(rec.env))
		}
	}
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
		sub.out.Complete()
	}()
	return ch
}

func (r *Relay) run(ctx context.Context, in <-chan core.DeviceMessage) {
	prune := time.NewTicker(r.window)
	defer prune.Stop()
	for {
		select {
		case m, ok := <-in:
			if !ok {
				return
			}
			r.handle(m)
		case <-prune.C:
			r.mu.Lock()
			r.pruneLocked()
			r.mu.Unlock()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Relay) handle(m core.DeviceMessage) {
	var env Envelope
	if err := json.Unmarshal(m.Content, &env); err != nil {
		r.log.Debug().Err(err).Str("user_id", string(m.Sender)).Msg("dropping malformed signaling message")
		return
	}
	if env.ID == "" || env.ConnectionID == "" || (env.Description == nil && len(env.Candidates) == 0) {
		r.log.Debug().Str("user_id", string(m.Sender)).Msg("dropping incomplete signaling message")
		return
	}

	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[env.ID]; dup {
		return
	}
	r.seen[env.ID] = now
	rec := received{at: now, sender: m.Sender, env: env}
	r.buffer = append(r.buffer, rec)
	for sub := range r.subs {
		if sub.matches(rec) {
			sub.out.Publish(toMessage(env))
		}
	}
}

func (r *Relay) pruneLocked() {
	cutoff := r.now().Add(-r.window)
	i := 0
	for i < len(r.buffer) && r.buffer[i].at.Before(cutoff) {
		i++
	}
	r.buffer = append(r.buffer[:0], r.buffer[i:]...)
	for id, at := range r.seen {
		if at.Before(cutoff) {
			delete(r.seen, id)
		}
	}
}

func toMessage(env Envelope) domain.SignalingMessage {
	return domain.SignalingMessage{Description: env.Description, Candidates: env.Candidates}
}

// Link binds the relay to one local/remote session pair.
type Link struct {
	relay  *Relay
	local  domain.SessionID
	remote domain.Session
	connID domain.ConnectionID
}

func (r *Relay) Link(local domain.SessionID, remote domain.Session, connID domain.ConnectionID) *Link {
	return &Link{relay: r, local: local, remote: remote, connID: connID}
}

func (l *Link) SendDescription(ctx context.Context, sd domain.SessionDescription) error {
	return l.relay.SendDescription(ctx, l.local, l.remote, l.connID, sd)
}

func (l *Link) SendCandidates(ctx context.Context, candidates []*domain.ICECandidate) error {
	return l.relay.SendCandidates(ctx, l.local, l.remote, l.connID, candidates)
}

func (l *Link) Observe(ctx context.Context) <-chan domain.SignalingMessage {
	return l.relay.ObserveSignaling(ctx, l.remote, l.connID)
}
