// Package presence tracks which sessions are present on a whiteboard.
//
// Every participant owns one row of the shared presence table and lists its
// live sessions there with an expiry. The SessionManager keeps the local
// entry fresh, diffs everybody else's rows into joined/left events and
// treats expired entries as absent.
package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrMissingUserID    = errors.New("missing local user id")
	ErrWhiteboardLocked = domain.ErrWhiteboardLocked
	ErrDestroyed        = errors.New("session manager destroyed")
)

type Config struct {
	// Timeout is how long a published entry stays valid. The entry is
	// refreshed at 75% of it.
	Timeout time.Duration
	// CleanupInterval is the period of the local expiry sweep.
	CleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: 60 * time.Second, CleanupInterval: 10 * time.Second}
}

type Option func(*SessionManager)

// WithClock replaces time.Now for expiry computations.
func WithClock(now func() time.Time) Option {
	return func(m *SessionManager) { m.now = now }
}

type SessionManager struct {
	table core.PresenceTable
	cfg   Config
	now   func() time.Time
	log   zerolog.Logger

	events *stream.Subject[domain.SessionEvent]

	mu        sync.Mutex
	wb        domain.WhiteboardID
	sessionID domain.SessionID
	remote    map[domain.SessionID]domain.SessionRecord
	cancel    context.CancelFunc
	done      chan struct{}
	destroyed bool
}

func NewSessionManager(table core.PresenceTable, cfg Config, opts ...Option) *SessionManager {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	m := &SessionManager{
		table:  table,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("module", "presence").Logger(),
		events: stream.NewSubject[domain.SessionEvent](),
		remote: make(map[domain.SessionID]domain.SessionRecord),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Join publishes a fresh session on wb and starts tracking the others. An
// existing session is left first.
func (m *SessionManager) Join(ctx context.Context, wb domain.WhiteboardID) (domain.SessionID, error) {
	user := m.table.UserID()
	if user == "" {
		return "", ErrMissingUserID
	}
	m.mu.Lock()
	destroyed, joined := m.destroyed, m.sessionID != ""
	m.mu.Unlock()
	if destroyed {
		return "", ErrDestroyed
	}
	if joined {
		if err := m.Leave(ctx); err != nil {
			m.log.Warn().Err(err).Msg("leave before rejoin failed")
		}
	}

	sid := domain.NewSessionID()
	loopCtx, cancel := context.WithCancel(context.Background())
	rows, err := m.table.ObserveRows(loopCtx, wb)
	if err != nil {
		cancel()
		return "", fmt.Errorf("observe presence %s: %w", wb, err)
	}
	if err := m.writeOwn(ctx, wb, sid, true); err != nil {
		cancel()
		return "", fmt.Errorf("join %s: %w", wb, err)
	}

	done := make(chan struct{})
	m.mu.Lock()
	m.wb = wb
	m.sessionID = sid
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(loopCtx, wb, sid, rows, done)

	m.log.Info().Str("whiteboard_id", string(wb)).Str("user_id", string(user)).Str("session_id", string(sid)).Msg("joined")
	return sid, nil
}

// Leave removes the local entry and reports every tracked session as left.
// Idempotent.
func (m *SessionManager) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.sessionID == "" {
		m.mu.Unlock()
		return nil
	}
	wb, sid, cancel, done := m.wb, m.sessionID, m.cancel, m.done
	m.sessionID, m.wb, m.cancel, m.done = "", "", nil, nil
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	gone := m.remote
	m.remote = make(map[domain.SessionID]domain.SessionRecord)
	m.mu.Unlock()
	records := make([]domain.SessionRecord, 0, len(gone))
	for _, r := range gone {
		records = append(records, r)
	}
	domain.SortRecords(records)
	for _, r := range records {
		m.publish(domain.SessionLeft, r.Session)
	}

	m.log.Info().Str("whiteboard_id", string(wb)).Str("session_id", string(sid)).Msg("left")
	if err := m.writeOwn(ctx, wb, sid, false); err != nil {
		return fmt.Errorf("leave %s: %w", wb, err)
	}
	return nil
}

func (m *SessionManager) SessionID() domain.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *SessionManager) WhiteboardID() domain.WhiteboardID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wb
}

func (m *SessionManager) UserID() domain.UserID { return m.table.UserID() }

// Sessions returns the unexpired remote sessions, sorted.
func (m *SessionManager) Sessions() []domain.SessionRecord {
	now := m.now()
	m.mu.Lock()
	out := make([]domain.SessionRecord, 0, len(m.remote))
	for _, r := range m.remote {
		if !r.Expired(now) {
			out = append(out, r)
		}
	}
	m.mu.Unlock()
	domain.SortRecords(out)
	return out
}

// ObserveSessionEvents yields joined and left events in the order they
// happened.
func (m *SessionManager) ObserveSessionEvents(ctx context.Context) <-chan domain.SessionEvent {
	return m.events.Subscribe(ctx)
}

func (m *SessionManager) ObserveSessionJoined(ctx context.Context) <-chan domain.Session {
	return m.observeKind(ctx, domain.SessionJoined)
}

func (m *SessionManager) ObserveSessionLeft(ctx context.Context) <-chan domain.Session {
	return m.observeKind(ctx, domain.SessionLeft)
}

func (m *SessionManager) observeKind(ctx context.Context, kind domain.SessionEventKind) <-chan domain.Session {
	in := m.events.SubscribeFunc(ctx, func(e domain.SessionEvent) bool { return e.Kind == kind })
	out := make(chan domain.Session)
	go func() {
		defer close(out)
		for e := range in {
			select {
			case out <- e.Session:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (m *SessionManager) publish(kind domain.SessionEventKind, s domain.Session) {
	m.events.Publish(domain.SessionEvent{Kind: kind, Session: s})
}

// Destroy leaves and completes the event streams. Idempotent.
func (m *SessionManager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Leave(ctx); err != nil {
		m.log.Warn().Err(err).Msg("leave on destroy failed")
	}
	m.events.Complete()
}

func (m *SessionManager) run(ctx context.Context, wb domain.WhiteboardID, sid domain.SessionID, rows <-chan domain.PresenceRows, done chan struct{}) {
	defer close(done)
	refresh := time.NewTicker(m.cfg.Timeout * 3 / 4)
	defer refresh.Stop()
	cleanup := time.NewTicker(m.cfg.CleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case r, ok := <-rows:
			if !ok {
				rows = nil
				m.log.Warn().Str("whiteboard_id", string(wb)).Msg("presence stream closed by host")
				continue
			}
			m.apply(sid, r)
		case <-refresh.C:
			if err := m.writeOwn(ctx, wb, sid, true); err != nil && ctx.Err() == nil {
				m.log.Warn().Err(err).Str("session_id", string(sid)).Msg("refresh failed")
			}
		case <-cleanup.C:
			m.sweep()
		case <-ctx.Done():
			return
		}
	}
}

// apply diffs the table against the tracked sessions.
func (m *SessionManager) apply(local domain.SessionID, rows domain.PresenceRows) {
	now := m.now()
	m.mu.Lock()
	wb := m.wb
	if m.sessionID != local {
		m.mu.Unlock()
		return
	}
	current := make(map[domain.SessionID]domain.SessionRecord)
	for user, entries := range rows {
		for _, e := range entries {
			if e.SessionID == local || e.WhiteboardID != wb || e.Expired(now) {
				continue
			}
			current[e.SessionID] = domain.RecordFromEntry(user, e)
		}
	}
	var joined, left []domain.SessionRecord
	for id, r := range current {
		if _, ok := m.remote[id]; !ok {
			joined = append(joined, r)
		}
	}
	for id, r := range m.remote {
		if _, ok := current[id]; !ok {
			left = append(left, r)
		}
	}
	m.remote = current
	m.mu.Unlock()

	domain.SortRecords(left)
	domain.SortRecords(joined)
	for _, r := range left {
		m.log.Debug().Str("remote_session_id", string(r.SessionID)).Str("user_id", string(r.UserID)).Msg("session left")
		m.publish(domain.SessionLeft, r.Session)
	}
	for _, r := range joined {
		m.log.Debug().Str("remote_session_id", string(r.SessionID)).Str("user_id", string(r.UserID)).Msg("session joined")
		m.publish(domain.SessionJoined, r.Session)
	}
}

func (m *SessionManager) sweep() {
	now := m.now()
	m.mu.Lock()
	var expired []domain.SessionRecord
	for id, r := range m.remote {
		if r.Expired(now) {
			expired = append(expired, r)
			delete(m.remote, id)
		}
	}
	m.mu.Unlock()

	domain.SortRecords(expired)
	for _, r := range expired {
		m.log.Debug().Str("remote_session_id", string(r.SessionID)).Msg("session expired")
		m.publish(domain.SessionLeft, r.Session)
	}
}

// writeOwn rewrites the local row: unrelated live entries are kept, expired
// ones dropped, and sid is added or removed.
func (m *SessionManager) writeOwn(ctx context.Context, wb domain.WhiteboardID, sid domain.SessionID, present bool) error {
	rows, err := m.table.ReadRows(ctx, wb)
	if err != nil {
		return err
	}
	now := m.now()
	var entries []domain.PresenceEntry
	for _, e := range rows[m.table.UserID()] {
		if e.Expired(now) || e.SessionID == sid {
			continue
		}
		entries = append(entries, e)
	}
	if present {
		entries = append(entries, domain.PresenceEntry{
			SessionID:    sid,
			WhiteboardID: wb,
			ExpiresTs:    now.Add(m.cfg.Timeout).UnixMilli(),
		})
	}
	return m.table.WriteOwnRow(ctx, wb, entries)
}
