package presence

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/Board/internal/adapters/memory"
	"github.com/dkeye/Board/internal/app/hub"
	"github.com/dkeye/Board/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastConfig = Config{Timeout: 300 * time.Millisecond, CleanupInterval: 20 * time.Millisecond}

func newManager(t *testing.T, h *hub.Hub, user domain.UserID) *SessionManager {
	t.Helper()
	m := NewSessionManager(memory.NewClient(h, user), fastConfig)
	t.Cleanup(m.Destroy)
	return m
}

func next(t *testing.T, ch <-chan domain.Session) domain.Session {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "stream completed")
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session event")
	}
	return domain.Session{}
}

func quiet(t *testing.T, ch <-chan domain.Session, d time.Duration) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected session event %+v", s)
	case <-time.After(d):
	}
}

func TestJoinRequiresUserID(t *testing.T) {
	m := newManager(t, memory.NewHub(), "")
	_, err := m.Join(t.Context(), "wb-1")
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestJoinedAndLeftExcludeLocalSession(t *testing.T) {
	h := memory.NewHub()
	alice := newManager(t, h, "@alice")
	bob := newManager(t, h, "@bob")

	aliceJoined := alice.ObserveSessionJoined(t.Context())
	aliceLeft := alice.ObserveSessionLeft(t.Context())
	bobJoined := bob.ObserveSessionJoined(t.Context())

	aliceSID, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)
	bobSID, err := bob.Join(t.Context(), "wb-1")
	require.NoError(t, err)

	assert.Equal(t, domain.Session{UserID: "@bob", SessionID: bobSID}, next(t, aliceJoined))
	assert.Equal(t, domain.Session{UserID: "@alice", SessionID: aliceSID}, next(t, bobJoined))
	quiet(t, aliceJoined, 50*time.Millisecond)

	require.Len(t, alice.Sessions(), 1)
	assert.Equal(t, bobSID, alice.Sessions()[0].SessionID)

	require.NoError(t, bob.Leave(t.Context()))
	require.NoError(t, bob.Leave(t.Context()))
	assert.Equal(t, domain.Session{UserID: "@bob", SessionID: bobSID}, next(t, aliceLeft))
	assert.Empty(t, alice.Sessions())
	assert.Empty(t, bob.SessionID())
}

func TestExpiredRecordIsAbsent(t *testing.T) {
	h := memory.NewHub()
	alice := newManager(t, h, "@alice")
	joined := alice.ObserveSessionJoined(t.Context())
	left := alice.ObserveSessionLeft(t.Context())

	now := time.Now()
	carol := memory.NewClient(h, "@carol")
	require.NoError(t, carol.WriteOwnRow(t.Context(), "wb-1", []domain.PresenceEntry{
		{SessionID: "stale", WhiteboardID: "wb-1", ExpiresTs: now.Add(-time.Second).UnixMilli()},
		{SessionID: "short", WhiteboardID: "wb-1", ExpiresTs: now.Add(150 * time.Millisecond).UnixMilli()},
	}))

	_, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)

	assert.Equal(t, domain.SessionID("short"), next(t, joined).SessionID)
	quiet(t, joined, 30*time.Millisecond)
	require.Len(t, alice.Sessions(), 1)

	assert.Equal(t, domain.SessionID("short"), next(t, left).SessionID)
	assert.Empty(t, alice.Sessions())
}

func TestRejoinLeavesPreviousSession(t *testing.T) {
	h := memory.NewHub()
	alice := newManager(t, h, "@alice")
	bob := newManager(t, h, "@bob")
	bobJoined := bob.ObserveSessionJoined(t.Context())
	bobLeft := bob.ObserveSessionLeft(t.Context())

	_, err := bob.Join(t.Context(), "wb-1")
	require.NoError(t, err)
	first, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)
	assert.Equal(t, first, next(t, bobJoined).SessionID)

	second, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	assert.Equal(t, first, next(t, bobLeft).SessionID)
	assert.Equal(t, second, next(t, bobJoined).SessionID)

	rows, err := h.ReadRows(t.Context(), "wb-1")
	require.NoError(t, err)
	require.Len(t, rows["@alice"], 1)
	assert.Equal(t, second, rows["@alice"][0].SessionID)
}

func TestWritePreservesUnrelatedEntriesOfSameUser(t *testing.T) {
	h := memory.NewHub()
	otherTab := domain.PresenceEntry{SessionID: "tab-2", WhiteboardID: "wb-1", ExpiresTs: time.Now().Add(time.Hour).UnixMilli()}
	expired := domain.PresenceEntry{SessionID: "old", WhiteboardID: "wb-1", ExpiresTs: 1}
	require.NoError(t, memory.NewClient(h, "@alice").WriteOwnRow(t.Context(), "wb-1", []domain.PresenceEntry{otherTab, expired}))

	alice := newManager(t, h, "@alice")
	joined := alice.ObserveSessionJoined(t.Context())
	sid, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)

	// another session of the same user is a remote session
	assert.Equal(t, domain.Session{UserID: "@alice", SessionID: "tab-2"}, next(t, joined))

	rows, err := h.ReadRows(t.Context(), "wb-1")
	require.NoError(t, err)
	ids := []domain.SessionID{}
	for _, e := range rows["@alice"] {
		ids = append(ids, e.SessionID)
	}
	assert.ElementsMatch(t, []domain.SessionID{"tab-2", sid}, ids)

	require.NoError(t, alice.Leave(t.Context()))
	rows, err = h.ReadRows(t.Context(), "wb-1")
	require.NoError(t, err)
	assert.Equal(t, []domain.PresenceEntry{otherTab}, rows["@alice"])
}

func TestRefreshExtendsExpiry(t *testing.T) {
	h := memory.NewHub()
	alice := newManager(t, h, "@alice")
	_, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)

	rows, err := h.ReadRows(t.Context(), "wb-1")
	require.NoError(t, err)
	first := rows["@alice"][0].ExpiresTs

	require.Eventually(t, func() bool {
		rows, err := h.ReadRows(context.Background(), "wb-1")
		return err == nil && len(rows["@alice"]) == 1 && rows["@alice"][0].ExpiresTs > first
	}, 2*time.Second, 20*time.Millisecond)
}

func TestJoinLockedWhiteboard(t *testing.T) {
	h := memory.NewHub()
	require.NoError(t, h.SetLocked(t.Context(), "wb-1", true))

	alice := newManager(t, h, "@alice")
	_, err := alice.Join(t.Context(), "wb-1")
	assert.ErrorIs(t, err, ErrWhiteboardLocked)
	assert.Empty(t, alice.SessionID())
}

func TestDestroyCompletesStreams(t *testing.T) {
	h := memory.NewHub()
	alice := newManager(t, h, "@alice")
	joined := alice.ObserveSessionJoined(t.Context())
	left := alice.ObserveSessionLeft(t.Context())
	_, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)

	alice.Destroy()
	alice.Destroy()

	_, ok := <-joined
	assert.False(t, ok)
	_, ok = <-left
	assert.False(t, ok)

	rows, err := h.ReadRows(t.Context(), "wb-1")
	require.NoError(t, err)
	assert.Empty(t, rows["@alice"])

	_, err = alice.Join(t.Context(), "wb-1")
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestEventsKeepArrivalOrder(t *testing.T) {
	h := memory.NewHub()
	alice := newManager(t, h, "@alice")
	events := alice.ObserveSessionEvents(t.Context())

	carol := memory.NewClient(h, "@carol")
	write := func(expires time.Duration) {
		require.NoError(t, carol.WriteOwnRow(t.Context(), "wb-1", []domain.PresenceEntry{
			{SessionID: "carol-1", WhiteboardID: "wb-1", ExpiresTs: time.Now().Add(expires).UnixMilli()},
		}))
	}
	write(100 * time.Millisecond)
	_, err := alice.Join(t.Context(), "wb-1")
	require.NoError(t, err)

	carolSession := domain.Session{UserID: "@carol", SessionID: "carol-1"}
	nextEvent := func() domain.SessionEvent {
		t.Helper()
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream completed")
			return e
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for session event")
		}
		return domain.SessionEvent{}
	}

	assert.Equal(t, domain.SessionEvent{Kind: domain.SessionJoined, Session: carolSession}, nextEvent())
	// swept as expired, then refreshed by its owner
	assert.Equal(t, domain.SessionEvent{Kind: domain.SessionLeft, Session: carolSession}, nextEvent())
	write(time.Hour)
	assert.Equal(t, domain.SessionEvent{Kind: domain.SessionJoined, Session: carolSession}, nextEvent())
	assert.Len(t, alice.Sessions(), 1)
}
