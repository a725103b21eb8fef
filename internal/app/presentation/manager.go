// Package presentation runs presenter election on top of a communication
// channel: one participant presents, everybody else follows its active
// slide, and a presenter whose connection drops is demoted locally.
package presentation

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrNoSession = errors.New("no local session")

const MessageType = "present_slide"

type View struct {
	SlideID    string `json:"slideId" validate:"required"`
	IsEditMode bool   `json:"isEditMode"`
}

// PresentSlide is the present_slide content. A nil View ends the
// presentation.
type PresentSlide struct {
	View *View `json:"view,omitempty"`
}

// RegisterSchemas adds the present_slide content schema to r.
func RegisterSchemas(r *domain.SchemaRegistry) {
	r.Register(MessageType, func() any { return &PresentSlide{} })
}

// Channel is the part of the communication channel the manager uses.
type Channel interface {
	BroadcastMessage(msgType string, content any) error
	ObserveMessages(ctx context.Context) <-chan domain.Message
	ObserveStatistics(ctx context.Context) <-chan domain.CommunicationChannelStatistics
	SessionID() domain.SessionID
	UserID() domain.UserID
	SetObserveVisibility(enabled bool)
}

type Manager struct {
	channel    Channel
	whiteboard core.WhiteboardInstance
	schemas    *domain.SchemaRegistry
	log        zerolog.Logger

	state *stream.Subject[domain.PresentationState]

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	mu                 sync.Mutex
	presenter          *domain.Session
	presenterSeen      presenterStatus
	isEditMode         bool
	connected          map[domain.SessionID]struct{}
	lastStats          domain.CommunicationChannelStatistics
	stopForwarder      context.CancelFunc
	destroyed          bool
}

// NewManager registers present_slide in schemas and starts following
// channel.
func NewManager(channel Channel, whiteboard core.WhiteboardInstance, schemas *domain.SchemaRegistry) *Manager {
	RegisterSchemas(schemas)
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		channel:    channel,
		whiteboard: whiteboard,
		schemas:    schemas,
		log:        log.With().Str("module", "presentation").Logger(),
		state:      stream.NewBehaviorSubject(domain.IdleState()),
		ctx:        ctx,
		cancel:     cancel,
		connected:  map[domain.SessionID]struct{}{},
	}
	msgs := channel.ObserveMessages(ctx)
	stats := channel.ObserveStatistics(ctx)
	m.wg.Go(func() { m.run(msgs, stats) })
	return m
}

func (m *Manager) ObservePresentationState(ctx context.Context) <-chan domain.PresentationState {
	return m.state.Subscribe(ctx)
}

func (m *Manager) State() domain.PresentationState {
	s, _ := m.state.Value()
	return s
}

// StartPresentation makes the local session the presenter and starts
// forwarding active slide changes.
func (m *Manager) StartPresentation() error {
	sid := m.channel.SessionID()
	if sid == "" {
		return ErrNoSession
	}
	local := domain.Session{UserID: m.channel.UserID(), SessionID: sid}

	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return nil
	}
	m.presenter = &local
	m.isEditMode = false
	m.startForwarderLocked(local)
	m.state.Publish(domain.PresentingState(false))
	m.mu.Unlock()

	m.channel.SetObserveVisibility(false)
	m.log.Info().Str("session_id", string(sid)).Msg("presentation started")
	return nil
}

// StopPresentation ends a local presentation and tells the followers.
func (m *Manager) StopPresentation() {
	m.mu.Lock()
	if !m.presentingLocked() {
		m.mu.Unlock()
		return
	}
	m.presenter = nil
	m.stopForwarderLocked()
	m.state.Publish(domain.IdleState())
	m.mu.Unlock()

	m.broadcast(PresentSlide{})
	m.channel.SetObserveVisibility(true)
	m.log.Info().Msg("presentation stopped")
}

// ToggleEditMode flips the local edit flag; a presenter rebroadcasts.
func (m *Manager) ToggleEditMode() {
	m.mu.Lock()
	m.isEditMode = !m.isEditMode
	presenting := m.presentingLocked()
	edit := m.isEditMode
	if presenting {
		m.state.Publish(domain.PresentingState(edit))
	}
	m.mu.Unlock()

	if presenting {
		m.broadcastSlide(m.whiteboard.ActiveSlideID(), edit)
	}
}

// Destroy resets to idle and completes the state stream. Idempotent.
func (m *Manager) Destroy() {
	m.mu.Lock()
	if m.destroyed {
		m.mu.Unlock()
		return
	}
	m.destroyed = true
	m.presenter = nil
	m.stopForwarderLocked()
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.state.Publish(domain.IdleState())
	m.state.Complete()
	m.channel.SetObserveVisibility(true)
}

func (m *Manager) run(msgs <-chan domain.Message, stats <-chan domain.CommunicationChannelStatistics) {
	for msgs != nil || stats != nil {
		select {
		case msg, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			m.handleMessage(msg)
		case s, ok := <-stats:
			if !ok {
				stats = nil
				continue
			}
			m.handleStatistics(s)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) handleMessage(msg domain.Message) {
	if msg.Type != MessageType {
		return
	}
	decoded, err := m.schemas.Decode(msg)
	if err != nil {
		m.log.Debug().Err(err).Str("remote_session_id", string(msg.SenderSessionID)).Msg("dropping invalid present_slide")
		return
	}
	content := decoded.(*PresentSlide)
	sender := msg.Sender()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyed {
		return
	}

	if content.View == nil {
		if m.presenter != nil && *m.presenter == sender {
			m.presenter = nil
			m.state.Publish(domain.IdleState())
			m.log.Info().Str("remote_session_id", string(sender.SessionID)).Msg("presenter stopped")
		}
		return
	}

	prev, _ := m.state.Value()
	if m.presentingLocked() {
		// someone else took over
		m.stopForwarderLocked()
		m.channel.SetObserveVisibility(true)
	}
	followingSame := prev.Kind == domain.PresentationFollowing && prev.PresenterSessionID == sender.SessionID
	if content.View.IsEditMode && !(followingSame && prev.IsEditMode) {
		m.whiteboard.ClearUndoManager()
	}
	if m.presenter == nil || *m.presenter != sender {
		m.presenter = &sender
		m.presenterSeen = statusOf(m.lastStats, sender.SessionID)
		m.log.Info().Str("remote_session_id", string(sender.SessionID)).Str("user_id", string(sender.UserID)).Msg("following presenter")
	}
	m.whiteboard.SetActiveSlideID(content.View.SlideID)
	m.state.Publish(domain.FollowingState(sender, content.View.IsEditMode))
}

func (m *Manager) handleStatistics(s domain.CommunicationChannelStatistics) {
	connected := s.ConnectedSessions()

	m.mu.Lock()
	m.lastStats = s
	if m.destroyed || m.presenter == nil {
		m.connected = connected
		m.mu.Unlock()
		return
	}

	if m.presentingLocked() {
		changed := !maps.Equal(connected, m.connected)
		m.connected = connected
		edit := m.isEditMode
		m.mu.Unlock()
		if changed {
			m.broadcastSlide(m.whiteboard.ActiveSlideID(), edit)
		}
		return
	}
	m.connected = connected

	now := statusOf(s, m.presenter.SessionID)
	if m.presenterSeen.lost(now) {
		m.log.Info().Str("remote_session_id", string(m.presenter.SessionID)).Msg("presenter disconnected")
		m.presenter = nil
		m.presenterSeen = presenterStatus{}
		m.state.Publish(domain.IdleState())
	} else {
		m.presenterSeen = now
	}
	m.mu.Unlock()
}

// presenterStatus is what one statistics snapshot says about the presenter.
type presenterStatus struct {
	connected bool
	entry     bool
	session   bool
}

func statusOf(s domain.CommunicationChannelStatistics, sid domain.SessionID) presenterStatus {
	var st presenterStatus
	for _, pc := range s.PeerConnections {
		if pc.RemoteSessionID == sid {
			st.entry = true
			st.connected = st.connected || pc.IsPeerConnected()
		}
	}
	for _, r := range s.Sessions {
		if r.SessionID == sid {
			st.session = true
		}
	}
	return st
}

// lost reports whether anything that was seen before has gone away. A
// presenter that was never seen is kept while its peer is being set up.
func (p presenterStatus) lost(now presenterStatus) bool {
	return (p.connected && !now.connected) || (p.entry && !now.entry) || (p.session && !now.session)
}

func (m *Manager) presentingLocked() bool {
	return m.presenter != nil && m.presenter.SessionID == m.channel.SessionID()
}

func (m *Manager) startForwarderLocked(local domain.Session) {
	m.stopForwarderLocked()
	ctx, cancel := context.WithCancel(m.ctx)
	m.stopForwarder = cancel
	slides := m.whiteboard.ObserveActiveSlideID(ctx)
	m.wg.Go(func() {
		for slide := range slides {
			m.mu.Lock()
			current := m.presenter != nil && *m.presenter == local && ctx.Err() == nil
			edit := m.isEditMode
			m.mu.Unlock()
			if !current {
				return
			}
			m.broadcastSlide(slide, edit)
		}
	})
}

func (m *Manager) stopForwarderLocked() {
	if m.stopForwarder != nil {
		m.stopForwarder()
		m.stopForwarder = nil
	}
}

func (m *Manager) broadcastSlide(slide string, edit bool) {
	if slide == "" {
		return
	}
	m.broadcast(PresentSlide{View: &View{SlideID: slide, IsEditMode: edit}})
}

func (m *Manager) broadcast(content PresentSlide) {
	if err := m.channel.BroadcastMessage(MessageType, content); err != nil {
		m.log.Warn().Err(err).Msg("broadcast present_slide")
	}
}
