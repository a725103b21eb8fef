package presentation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Board/internal/adapters/board"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wait, tick = 2 * time.Second, 5 * time.Millisecond

var (
	local     = domain.Session{UserID: "@alice", SessionID: "session-a"}
	presenter = domain.Session{UserID: "@bob", SessionID: "session-b"}
	other     = domain.Session{UserID: "@carol", SessionID: "session-c"}
)

type fakeChannel struct {
	sid      domain.SessionID
	messages *stream.Subject[domain.Message]
	stats    *stream.Subject[domain.CommunicationChannelStatistics]

	mu         sync.Mutex
	sent       []PresentSlide
	visibility []bool
}

func newFakeChannel(sid domain.SessionID) *fakeChannel {
	return &fakeChannel{
		sid:      sid,
		messages: stream.NewSubject[domain.Message](),
		stats:    stream.NewBehaviorSubject(domain.CommunicationChannelStatistics{}),
	}
}

func (f *fakeChannel) BroadcastMessage(msgType string, content any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msgType == MessageType {
		f.sent = append(f.sent, content.(PresentSlide))
	}
	return nil
}

func (f *fakeChannel) ObserveMessages(ctx context.Context) <-chan domain.Message {
	return f.messages.Subscribe(ctx)
}

func (f *fakeChannel) ObserveStatistics(ctx context.Context) <-chan domain.CommunicationChannelStatistics {
	return f.stats.Subscribe(ctx)
}

func (f *fakeChannel) SessionID() domain.SessionID { return f.sid }
func (f *fakeChannel) UserID() domain.UserID       { return local.UserID }

func (f *fakeChannel) SetObserveVisibility(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visibility = append(f.visibility, enabled)
}

func (f *fakeChannel) broadcasts() []PresentSlide {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PresentSlide(nil), f.sent...)
}

func (f *fakeChannel) lastVisibility() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.visibility) == 0 {
		return false, false
	}
	return f.visibility[len(f.visibility)-1], true
}

func (f *fakeChannel) deliver(t *testing.T, from domain.Session, content any) {
	t.Helper()
	raw, err := json.Marshal(content)
	require.NoError(t, err)
	f.messages.Publish(domain.Message{Type: MessageType, SenderUserID: from.UserID, SenderSessionID: from.SessionID, Content: raw})
}

func (f *fakeChannel) connected(sessions ...domain.Session) {
	s := domain.CommunicationChannelStatistics{
		LocalSessionID:  f.sid,
		PeerConnections: map[domain.ConnectionID]domain.PeerConnectionStatistics{},
	}
	for _, r := range sessions {
		s.PeerConnections[domain.NewConnectionID(f.sid, r.SessionID)] = domain.PeerConnectionStatistics{
			RemoteUserID:     r.UserID,
			RemoteSessionID:  r.SessionID,
			ConnectionState:  domain.ConnectionStateConnected,
			DataChannelState: domain.DataChannelStateOpen,
		}
	}
	f.stats.Publish(s)
}

func setup(t *testing.T) (*Manager, *fakeChannel, *board.Whiteboard) {
	t.Helper()
	ch := newFakeChannel(local.SessionID)
	wb := board.NewWhiteboard("s1", "s2", "s3")
	m := NewManager(ch, wb, domain.NewSchemaRegistry())
	t.Cleanup(m.Destroy)
	return m, ch, wb
}

func view(slide string, edit bool) PresentSlide {
	return PresentSlide{View: &View{SlideID: slide, IsEditMode: edit}}
}

func eventuallyState(t *testing.T, m *Manager, want domain.PresentationState) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want }, wait, tick, "want %+v, have %+v", want, m.State())
}

func TestStartRequiresSession(t *testing.T) {
	m := NewManager(newFakeChannel(""), board.NewWhiteboard("s1"), domain.NewSchemaRegistry())
	t.Cleanup(m.Destroy)
	assert.ErrorIs(t, m.StartPresentation(), ErrNoSession)
	assert.Equal(t, domain.IdleState(), m.State())
}

func TestStartStopRoundTrip(t *testing.T) {
	m, ch, wb := setup(t)

	require.NoError(t, m.StartPresentation())
	assert.Equal(t, domain.PresentingState(false), m.State())
	visible, ok := ch.lastVisibility()
	require.True(t, ok)
	assert.False(t, visible)

	require.Eventually(t, func() bool { return len(ch.broadcasts()) == 1 }, wait, tick)
	assert.Equal(t, view("s1", false), ch.broadcasts()[0])

	wb.SetActiveSlideID("s2")
	require.Eventually(t, func() bool { return len(ch.broadcasts()) == 2 }, wait, tick)
	assert.Equal(t, view("s2", false), ch.broadcasts()[1])

	m.StopPresentation()
	assert.Equal(t, domain.IdleState(), m.State())
	require.Len(t, ch.broadcasts(), 3)
	assert.Equal(t, PresentSlide{}, ch.broadcasts()[2])
	visible, _ = ch.lastVisibility()
	assert.True(t, visible)

	wb.SetActiveSlideID("s3")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ch.broadcasts(), 3, "no forwarding after stop")
}

func TestStopWhenNotPresentingIsNoop(t *testing.T) {
	m, ch, _ := setup(t)
	m.StopPresentation()
	assert.Empty(t, ch.broadcasts())
}

func TestToggleEditModeRebroadcasts(t *testing.T) {
	m, ch, _ := setup(t)
	require.NoError(t, m.StartPresentation())
	require.Eventually(t, func() bool { return len(ch.broadcasts()) == 1 }, wait, tick)

	m.ToggleEditMode()
	assert.Equal(t, domain.PresentingState(true), m.State())
	require.Len(t, ch.broadcasts(), 2)
	assert.Equal(t, view("s1", true), ch.broadcasts()[1])

	// starting again resets the flag
	require.NoError(t, m.StartPresentation())
	assert.Equal(t, domain.PresentingState(false), m.State())
}

func TestFollowRemotePresenter(t *testing.T) {
	m, ch, wb := setup(t)
	states := m.ObservePresentationState(t.Context())
	assert.Equal(t, domain.IdleState(), <-states)

	ch.deliver(t, presenter, view("s2", false))
	assert.Equal(t, domain.FollowingState(presenter, false), <-states)
	assert.Equal(t, "s2", wb.ActiveSlideID())

	ch.deliver(t, presenter, view("s3", false))
	assert.Equal(t, domain.FollowingState(presenter, false), <-states)
	assert.Equal(t, "s3", wb.ActiveSlideID())

	// an empty view from someone else is ignored
	ch.deliver(t, other, PresentSlide{})
	ch.deliver(t, presenter, PresentSlide{})
	assert.Equal(t, domain.IdleState(), <-states)
}

func TestEnteringEditModeClearsUndoOnce(t *testing.T) {
	m, ch, wb := setup(t)
	wb.Draw("s1", "line")
	require.Equal(t, 1, wb.UndoDepth())

	ch.deliver(t, presenter, view("s1", true))
	eventuallyState(t, m, domain.FollowingState(presenter, true))
	assert.Equal(t, 0, wb.UndoDepth())

	wb.Draw("s1", "circle")
	ch.deliver(t, presenter, view("s2", true))
	require.Eventually(t, func() bool { return wb.ActiveSlideID() == "s2" }, wait, tick)
	assert.Equal(t, 1, wb.UndoDepth())
}

func TestInvalidPresentSlideDropped(t *testing.T) {
	m, ch, wb := setup(t)

	ch.deliver(t, presenter, map[string]any{"view": map[string]any{}})
	ch.messages.Publish(domain.Message{Type: MessageType, SenderSessionID: presenter.SessionID, Content: json.RawMessage(`"nope"`)})
	ch.messages.Publish(domain.Message{Type: "other", SenderSessionID: presenter.SessionID, Content: json.RawMessage(`{}`)})
	ch.deliver(t, presenter, view("s3", false))

	eventuallyState(t, m, domain.FollowingState(presenter, false))
	assert.Equal(t, "s3", wb.ActiveSlideID())
}

func TestPresenterDisconnectFallsBackToIdle(t *testing.T) {
	m, ch, _ := setup(t)
	ch.connected(presenter, other)
	ch.deliver(t, presenter, view("s2", false))
	eventuallyState(t, m, domain.FollowingState(presenter, false))

	ch.connected(other)
	eventuallyState(t, m, domain.IdleState())
}

func TestPresenterNotYetConnectedIsKept(t *testing.T) {
	m, ch, _ := setup(t)
	ch.deliver(t, presenter, view("s2", false))
	eventuallyState(t, m, domain.FollowingState(presenter, false))

	ch.connected(other)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.FollowingState(presenter, false), m.State())

	ch.connected(other, presenter)
	ch.connected(other)
	eventuallyState(t, m, domain.IdleState())
}

func TestPresenterRebroadcastsOnConnectedChange(t *testing.T) {
	m, ch, _ := setup(t)
	require.NoError(t, m.StartPresentation())
	require.Eventually(t, func() bool { return len(ch.broadcasts()) == 1 }, wait, tick)

	ch.connected(presenter)
	require.Eventually(t, func() bool { return len(ch.broadcasts()) == 2 }, wait, tick)
	assert.Equal(t, view("s1", false), ch.broadcasts()[1])

	// same set again: nothing to catch up
	ch.connected(presenter)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ch.broadcasts(), 2)

	ch.connected(presenter, other)
	require.Eventually(t, func() bool { return len(ch.broadcasts()) == 3 }, wait, tick)
}

func TestRemoteTakeoverStopsForwarding(t *testing.T) {
	m, ch, wb := setup(t)
	require.NoError(t, m.StartPresentation())
	require.Eventually(t, func() bool { return len(ch.broadcasts()) == 1 }, wait, tick)

	ch.deliver(t, presenter, view("s2", false))
	eventuallyState(t, m, domain.FollowingState(presenter, false))
	visible, _ := ch.lastVisibility()
	assert.True(t, visible)

	wb.SetActiveSlideID("s3")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ch.broadcasts(), 1)
}

func TestDestroyResetsToIdle(t *testing.T) {
	m, ch, wb := setup(t)
	states := m.ObservePresentationState(t.Context())
	require.NoError(t, m.StartPresentation())

	m.Destroy()
	m.Destroy()

	var last domain.PresentationState
	for s := range states {
		last = s
	}
	assert.Equal(t, domain.IdleState(), last)

	n := len(ch.broadcasts())
	wb.SetActiveSlideID("s2")
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, ch.broadcasts(), n)
}

func TestPresenterEntryRemovedBeforeConnecting(t *testing.T) {
	m, ch, _ := setup(t)
	ch.stats.Publish(domain.CommunicationChannelStatistics{
		LocalSessionID: local.SessionID,
		PeerConnections: map[domain.ConnectionID]domain.PeerConnectionStatistics{
			domain.NewConnectionID(local.SessionID, presenter.SessionID): {
				RemoteUserID:     presenter.UserID,
				RemoteSessionID:  presenter.SessionID,
				ConnectionState:  "connecting",
				DataChannelState: "connecting",
			},
		},
	})
	ch.deliver(t, presenter, view("s2", false))
	eventuallyState(t, m, domain.FollowingState(presenter, false))

	ch.connected(other)
	eventuallyState(t, m, domain.IdleState())
}

func TestPresenterSessionLeftBeforeConnecting(t *testing.T) {
	m, ch, _ := setup(t)
	ch.deliver(t, presenter, view("s2", false))
	eventuallyState(t, m, domain.FollowingState(presenter, false))

	ch.stats.Publish(domain.CommunicationChannelStatistics{
		LocalSessionID: local.SessionID,
		Sessions:       []domain.SessionRecord{{Session: presenter, WhiteboardID: "wb-1"}},
	})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.FollowingState(presenter, false), m.State())

	ch.stats.Publish(domain.CommunicationChannelStatistics{LocalSessionID: local.SessionID})
	eventuallyState(t, m, domain.IdleState())
}

func TestManagerRegistersInjectedSchemas(t *testing.T) {
	schemas := domain.NewSchemaRegistry()
	m := NewManager(newFakeChannel(local.SessionID), board.NewWhiteboard("s1"), schemas)
	t.Cleanup(m.Destroy)

	msg := domain.Message{Type: MessageType, Content: json.RawMessage(`{"view":{"slideId":"s1","isEditMode":true}}`)}
	decoded, err := schemas.Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, &PresentSlide{View: &View{SlideID: "s1", IsEditMode: true}}, decoded)

	_, err = domain.NewSchemaRegistry().Decode(msg)
	assert.ErrorIs(t, err, domain.ErrUnknownMessageType)
}
