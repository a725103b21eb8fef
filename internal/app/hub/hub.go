// Package hub is the host side of the platform primitives: per-room presence
// rows with change fan-out, and point-to-point delivery between users.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/rs/zerolog/log"
)

var ErrRateLimited = errors.New("rate limited")

// RowStore persists presence rows and room locks.
type RowStore interface {
	Rows(ctx context.Context, room domain.WhiteboardID) (domain.PresenceRows, error)
	PutRow(ctx context.Context, room domain.WhiteboardID, user domain.UserID, entries []domain.PresenceEntry) error
	Locked(ctx context.Context, room domain.WhiteboardID) (bool, error)
	SetLocked(ctx context.Context, room domain.WhiteboardID, locked bool) error
	Close() error
}

type Options struct {
	// ToDeviceLimit messages per ToDeviceInterval per sender; zero disables.
	ToDeviceLimit    int
	ToDeviceInterval time.Duration
	Now              func() time.Time
}

type Hub struct {
	store   RowStore
	limiter *RateLimiter
	now     func() time.Time

	mu      sync.RWMutex
	rooms   map[domain.WhiteboardID]*stream.Subject[domain.PresenceRows]
	inboxes map[domain.UserID]*stream.Subject[core.DeviceMessage]
	devices *Registry
}

func New(store RowStore, opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	h := &Hub{
		store:   store,
		now:     opts.Now,
		rooms:   make(map[domain.WhiteboardID]*stream.Subject[domain.PresenceRows]),
		inboxes: make(map[domain.UserID]*stream.Subject[core.DeviceMessage]),
		devices: NewRegistry(),
	}
	if opts.ToDeviceLimit > 0 {
		h.limiter = NewRateLimiter(opts.ToDeviceLimit, opts.ToDeviceInterval, opts.Now)
	}
	return h
}

func (h *Hub) Devices() *Registry { return h.devices }

func (h *Hub) ReadRows(ctx context.Context, room domain.WhiteboardID) (domain.PresenceRows, error) {
	rows, err := h.store.Rows(ctx, room)
	if err != nil {
		return nil, fmt.Errorf("read rows %s: %w", room, err)
	}
	return rows, nil
}

// WriteRow replaces user's row in room and notifies subscribers. A locked
// room refuses rows that introduce a session the user did not already have.
func (h *Hub) WriteRow(ctx context.Context, room domain.WhiteboardID, user domain.UserID, entries []domain.PresenceEntry) error {
	locked, err := h.store.Locked(ctx, room)
	if err != nil {
		return fmt.Errorf("lock state %s: %w", room, err)
	}
	if locked {
		rows, err := h.store.Rows(ctx, room)
		if err != nil {
			return fmt.Errorf("read rows %s: %w", room, err)
		}
		if introducesSession(rows[user], entries, h.now()) {
			log.Info().Str("module", "hub").Str("whiteboard_id", string(room)).Str("user_id", string(user)).Msg("refused join to locked room")
			return domain.ErrWhiteboardLocked
		}
	}

	if err := h.store.PutRow(ctx, room, user, entries); err != nil {
		return fmt.Errorf("write row %s/%s: %w", room, user, err)
	}
	rows, err := h.store.Rows(ctx, room)
	if err != nil {
		return fmt.Errorf("read rows %s: %w", room, err)
	}
	h.roomSubject(room).Publish(rows)
	log.Debug().Str("module", "hub").Str("whiteboard_id", string(room)).Str("user_id", string(user)).Int("entries", len(entries)).Msg("row written")
	return nil
}

func introducesSession(before, after []domain.PresenceEntry, now time.Time) bool {
	had := make(map[domain.SessionID]struct{}, len(before))
	for _, e := range before {
		if !e.Expired(now) {
			had[e.SessionID] = struct{}{}
		}
	}
	for _, e := range after {
		if _, ok := had[e.SessionID]; !ok && !e.Expired(now) {
			return true
		}
	}
	return false
}

// SubscribeRows yields the current rows first, then the rows after every
// write, until ctx ends.
func (h *Hub) SubscribeRows(ctx context.Context, room domain.WhiteboardID) (<-chan domain.PresenceRows, error) {
	subCtx, cancel := context.WithCancel(ctx)
	ch := h.roomSubject(room).Subscribe(subCtx)
	rows, err := h.ReadRows(ctx, room)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan domain.PresenceRows, 1)
	out <- rows
	go func() {
		defer cancel()
		defer close(out)
		for r := range ch {
			select {
			case out <- r.Clone():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (h *Hub) SetLocked(ctx context.Context, room domain.WhiteboardID, locked bool) error {
	if err := h.store.SetLocked(ctx, room, locked); err != nil {
		return fmt.Errorf("set lock %s: %w", room, err)
	}
	log.Info().Str("module", "hub").Str("whiteboard_id", string(room)).Bool("locked", locked).Msg("lock changed")
	return nil
}

func (h *Hub) Locked(ctx context.Context, room domain.WhiteboardID) (bool, error) {
	return h.store.Locked(ctx, room)
}

// SendToDevice delivers to every attached connection of to. Messages for
// users with no connection are dropped.
func (h *Hub) SendToDevice(from, to domain.UserID, event string, content []byte) error {
	if h.limiter != nil && !h.limiter.Allow(from) {
		log.Warn().Str("module", "hub").Str("user_id", string(from)).Msg("to-device rate limited")
		return ErrRateLimited
	}
	h.inbox(to).Publish(core.DeviceMessage{Sender: from, Event: event, Content: content})
	return nil
}

// ObserveToDevice yields messages addressed to user until ctx ends.
func (h *Hub) ObserveToDevice(ctx context.Context, user domain.UserID) <-chan core.DeviceMessage {
	return h.inbox(user).Subscribe(ctx)
}

// Close completes every open subscription and closes the store.
func (h *Hub) Close() error {
	h.mu.Lock()
	for _, s := range h.rooms {
		s.Complete()
	}
	for _, s := range h.inboxes {
		s.Complete()
	}
	h.mu.Unlock()
	h.devices.CancelAll()
	return h.store.Close()
}

func (h *Hub) roomSubject(room domain.WhiteboardID) *stream.Subject[domain.PresenceRows] {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.rooms[room]
	if !ok {
		s = stream.NewSubject[domain.PresenceRows]()
		h.rooms[room] = s
	}
	return s
}

func (h *Hub) inbox(user domain.UserID) *stream.Subject[core.DeviceMessage] {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.inboxes[user]
	if !ok {
		s = stream.NewSubject[core.DeviceMessage]()
		h.inboxes[user] = s
	}
	return s
}
