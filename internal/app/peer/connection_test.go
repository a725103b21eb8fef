package peer

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Board/internal/app/peer/peertest"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sessionA = domain.Session{UserID: "@alice", SessionID: "session-a"}
	sessionB = domain.Session{UserID: "@bob", SessionID: "session-b"}
)

const wait, tick = 2 * time.Second, 5 * time.Millisecond

func testConfig() Config {
	return Config{CandidateBatchWindow: 10 * time.Second, StatsInterval: 20 * time.Millisecond, ChannelLabel: DefaultChannelLabel}
}

func newConn(t *testing.T, local, remote domain.Session, cfg Config) (*Connection, *peertest.Transport, *pipeSignaler) {
	t.Helper()
	tr := peertest.NewTransport(string(local.SessionID))
	sig := newSignaler()
	c := New(local, remote, tr, sig, cfg)
	t.Cleanup(c.Close)
	return c, tr, sig
}

func TestRolesAndConnectionID(t *testing.T) {
	b, _, _ := newConn(t, sessionB, sessionA, testConfig())
	a, _, _ := newConn(t, sessionA, sessionB, testConfig())

	assert.Equal(t, domain.RoleImpolite, b.Role())
	assert.Equal(t, domain.RolePolite, a.Role())
	assert.Equal(t, domain.ConnectionID("session-b_session-a"), a.ID())
	assert.Equal(t, a.ID(), b.ID())
	assert.True(t, b.Statistics().Impolite)
	assert.False(t, a.Statistics().Impolite)
}

func TestImpoliteCreatesChannelAndOffers(t *testing.T) {
	_, tr, sig := newConn(t, sessionB, sessionA, testConfig())

	require.Eventually(t, func() bool { return len(sig.sent()) == 1 }, wait, tick)
	assert.Equal(t, domain.SDPTypeOffer, sig.sent()[0].Type)
	assert.Equal(t, domain.SignalingStateHaveLocalOffer, tr.SignalingState())
}

func TestPoliteWaitsAndAnswers(t *testing.T) {
	_, tr, sig := newConn(t, sessionA, sessionB, testConfig())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sig.sent(), "polite side must not offer on its own")

	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "offer:remote"}
	sig.push(domain.SignalingMessage{Description: &offer})

	require.Eventually(t, func() bool { return len(sig.sent()) == 1 }, wait, tick)
	assert.Equal(t, domain.SDPTypeAnswer, sig.sent()[0].Type)
	assert.Equal(t, []domain.SessionDescription{offer}, tr.RemoteApplied())
	assert.Equal(t, domain.SignalingStateStable, tr.SignalingState())
}

func TestImpoliteIgnoresCollidingOffer(t *testing.T) {
	_, tr, sig := newConn(t, sessionB, sessionA, testConfig())
	require.Eventually(t, func() bool { return len(sig.sent()) == 1 }, wait, tick)

	tr.FailCandidates(errors.New("no remote description"))
	glare := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "offer:polite"}
	sig.push(domain.SignalingMessage{
		Description: &glare,
		Candidates:  []*domain.ICECandidate{{Candidate: "candidate:1"}},
	})

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, tr.RemoteApplied())
	assert.Equal(t, domain.SignalingStateHaveLocalOffer, tr.SignalingState())
	assert.Len(t, sig.sent(), 1, "no answer for an ignored offer")
}

func TestPoliteRollsBackOnGlare(t *testing.T) {
	_, tr, sig := newConn(t, sessionA, sessionB, testConfig())

	tr.Emit(core.TransportEvent{Kind: core.EventNegotiationNeeded})
	require.Eventually(t, func() bool { return len(sig.sent()) == 1 }, wait, tick)
	require.Equal(t, domain.SignalingStateHaveLocalOffer, tr.SignalingState())

	remote := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "offer:impolite"}
	sig.push(domain.SignalingMessage{Description: &remote})

	require.Eventually(t, func() bool { return len(sig.sent()) == 2 }, wait, tick)
	assert.Equal(t, domain.SDPTypeAnswer, sig.sent()[1].Type)
	assert.Equal(t, []domain.SessionDescription{remote}, tr.RemoteApplied())
	assert.Equal(t, domain.SignalingStateStable, tr.SignalingState())
}

func TestGlareConvergesOnOneDescriptionPair(t *testing.T) {
	sigA, sigB := newSignaler(), newSignaler()
	trA, trB := peertest.NewTransport("a"), peertest.NewTransport("b")
	peertest.Connect(trA, trB)

	a := New(sessionA, sessionB, trA, sigA, testConfig())
	t.Cleanup(a.Close)
	b := New(sessionB, sessionA, trB, sigB, testConfig())
	t.Cleanup(b.Close)
	trA.Emit(core.TransportEvent{Kind: core.EventNegotiationNeeded})

	// both offers are out before either side hears from the other
	require.Eventually(t, func() bool { return len(sigA.sent()) == 1 && len(sigB.sent()) == 1 }, wait, tick)
	require.Equal(t, domain.SignalingStateHaveLocalOffer, trA.SignalingState())
	require.Equal(t, domain.SignalingStateHaveLocalOffer, trB.SignalingState())
	link(sigA, sigB)
	offerA, offerB := sigA.sent()[0], sigB.sent()[0]
	sigB.push(domain.SignalingMessage{Description: &offerA})
	sigA.push(domain.SignalingMessage{Description: &offerB})

	require.Eventually(t, func() bool { return a.IsConnected() && b.IsConnected() }, wait, tick)
	assert.Equal(t, []domain.SessionDescription{offerB}, trA.RemoteApplied())
	require.Len(t, trB.RemoteApplied(), 1)
	assert.Equal(t, domain.SDPTypeAnswer, trB.RemoteApplied()[0].Type)
	assert.Equal(t, offerB.SDP, trB.LocalDescription().SDP)
	assert.Equal(t, trA.LocalDescription().SDP, trB.RemoteDescription().SDP)
}

func TestCandidatesFlushOnTerminator(t *testing.T) {
	for name, term := range map[string]*domain.ICECandidate{"nil": nil, "empty": {Candidate: ""}} {
		t.Run(name, func(t *testing.T) {
			_, tr, sig := newConn(t, sessionA, sessionB, testConfig())
			c0 := &domain.ICECandidate{Candidate: "candidate:0"}
			c1 := &domain.ICECandidate{Candidate: "candidate:1"}
			tr.EmitCandidate(c0)
			tr.EmitCandidate(c1)
			tr.EmitCandidate(term)

			require.Eventually(t, func() bool { return len(sig.candidateBatches()) == 1 }, wait, tick)
			time.Sleep(50 * time.Millisecond)
			batches := sig.candidateBatches()
			require.Len(t, batches, 1)
			assert.Equal(t, []*domain.ICECandidate{c0, c1, term}, batches[0])
		})
	}
}

func TestCandidatesFlushAfterWindow(t *testing.T) {
	cfg := testConfig()
	cfg.CandidateBatchWindow = 100 * time.Millisecond
	_, tr, sig := newConn(t, sessionA, sessionB, cfg)

	c0 := &domain.ICECandidate{Candidate: "candidate:0"}
	tr.EmitCandidate(c0)
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, sig.candidateBatches())

	require.Eventually(t, func() bool { return len(sig.candidateBatches()) == 1 }, wait, tick)
	assert.Equal(t, []*domain.ICECandidate{c0}, sig.candidateBatches()[0])
}

func TestRemoteCandidatesAppliedInOrder(t *testing.T) {
	_, tr, sig := newConn(t, sessionA, sessionB, testConfig())
	offer := domain.SessionDescription{Type: domain.SDPTypeOffer, SDP: "offer:remote"}
	cands := []*domain.ICECandidate{{Candidate: "candidate:0"}, {Candidate: "candidate:1"}, nil}
	sig.push(domain.SignalingMessage{Description: &offer, Candidates: cands})

	require.Eventually(t, func() bool { return len(tr.Candidates()) == 3 }, wait, tick)
	assert.Equal(t, cands, tr.Candidates())
}

func TestICEFailureRestartsICE(t *testing.T) {
	_, tr, sig := newConn(t, sessionB, sessionA, testConfig())
	require.Eventually(t, func() bool { return len(sig.sent()) == 1 }, wait, tick)

	tr.SetICEConnectionState(domain.ICEStateFailed)
	require.Eventually(t, func() bool { return tr.ICERestarts() == 1 }, wait, tick)
	require.Eventually(t, func() bool { return len(sig.sent()) == 2 }, wait, tick)
	assert.Equal(t, domain.SDPTypeOffer, sig.sent()[1].Type)
	assert.False(t, tr.Closed())
}

func TestStatisticsPolled(t *testing.T) {
	c, tr, _ := newConn(t, sessionA, sessionB, testConfig())
	tr.SetStats(core.StatsReport{
		"T":  {ID: "T", Type: core.StatsTypeTransport, SelectedCandidatePairID: "P"},
		"P":  {ID: "P", Type: core.StatsTypeCandidatePair, LocalCandidateID: "L", RemoteCandidateID: "R", BytesSent: 42, BytesReceived: 24},
		"L":  {ID: "L", Type: core.StatsTypeLocalCandidate, CandidateType: "host"},
		"R":  {ID: "R", Type: core.StatsTypeRemoteCandidate, CandidateType: "prflx"},
		"X1": {ID: "X1", Type: "codec"},
	})

	stats := c.ObserveStatistics(t.Context())
	require.Eventually(t, func() bool { return c.Statistics().BytesSent == 42 }, wait, tick)
	s := c.Statistics()
	assert.Equal(t, uint64(24), s.BytesReceived)
	assert.Equal(t, "host", s.LocalCandidateType)
	assert.Equal(t, "prflx", s.RemoteCandidateType)
	assert.Equal(t, sessionB.SessionID, s.RemoteSessionID)
	assert.Equal(t, sessionB.UserID, s.RemoteUserID)

	first := <-stats
	assert.Equal(t, sessionB.SessionID, first.RemoteSessionID)
}

func TestEndToEndOverFakeTransport(t *testing.T) {
	sigA, sigB := pipePair()
	trA, trB := peertest.NewTransport("a"), peertest.NewTransport("b")
	peertest.Connect(trA, trB)

	a := New(sessionA, sessionB, trA, sigA, testConfig())
	t.Cleanup(a.Close)
	b := New(sessionB, sessionA, trB, sigB, testConfig())
	t.Cleanup(b.Close)

	require.Eventually(t, func() bool { return a.IsConnected() && b.IsConnected() }, wait, tick)
	// offer + answer only
	assert.Len(t, sigB.sent(), 1)
	assert.Len(t, sigA.sent(), 1)
	sa := a.Statistics()
	assert.Equal(t, domain.DataChannelStateOpen, sa.DataChannelState)
	assert.Equal(t, domain.ConnectionStateConnected, sa.ConnectionState)

	msgs := a.ObserveMessages(t.Context())
	require.NoError(t, b.SendMessage("ping", map[string]int{"n": 1}))

	select {
	case m := <-msgs:
		assert.Equal(t, "ping", m.Type)
		assert.Equal(t, sessionB, m.Sender())
		assert.JSONEq(t, `{"n":1}`, string(m.Content))
	case <-time.After(wait):
		t.Fatal("message not delivered")
	}
}

func TestMalformedFramesDropped(t *testing.T) {
	sigA, sigB := pipePair()
	trA, trB := peertest.NewTransport("a"), peertest.NewTransport("b")
	peertest.Connect(trA, trB)
	a := New(sessionA, sessionB, trA, sigA, testConfig())
	t.Cleanup(a.Close)
	b := New(sessionB, sessionA, trB, sigB, testConfig())
	t.Cleanup(b.Close)
	require.Eventually(t, func() bool { return a.IsConnected() && b.IsConnected() }, wait, tick)

	msgs := a.ObserveMessages(t.Context())
	b.mu.Lock()
	dc := b.channel
	b.mu.Unlock()
	require.NoError(t, dc.SendText(`{"content":{}}`))
	require.NoError(t, dc.SendText(`garbage`))
	require.NoError(t, b.SendMessage("ok", struct{}{}))

	select {
	case m := <-msgs:
		assert.Equal(t, "ok", m.Type)
	case <-time.After(wait):
		t.Fatal("valid message not delivered")
	}
}

func TestUnexpectedChannelLabelIgnored(t *testing.T) {
	c, tr, _ := newConn(t, sessionA, sessionB, testConfig())
	dc := peertest.NewDataChannel("other-v9")
	tr.Emit(core.TransportEvent{Kind: core.EventDataChannel, Channel: dc})
	dc.Open()

	time.Sleep(50 * time.Millisecond)
	assert.ErrorIs(t, c.SendMessage("x", nil), ErrChannelNotOpen)
	assert.Empty(t, c.Statistics().DataChannelState)
}

func TestCloseIsIdempotentAndCompletesStreams(t *testing.T) {
	c, tr, _ := newConn(t, sessionB, sessionA, testConfig())
	msgs := c.ObserveMessages(t.Context())
	stats := c.ObserveStatistics(t.Context())

	c.Close()
	c.Close()

	assert.True(t, tr.Closed())
	assert.ErrorIs(t, c.SendMessage("x", nil), ErrClosed)
	_, ok := <-msgs
	assert.False(t, ok)
	for range stats {
	}
}
