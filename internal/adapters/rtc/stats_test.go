package rtc

import (
	"testing"

	"github.com/dkeye/Board/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
)

func sampleReport() webrtc.StatsReport {
	return webrtc.StatsReport{
		"pair-1": webrtc.ICECandidatePairStats{
			ID: "pair-1", Type: webrtc.StatsTypeCandidatePair,
			LocalCandidateID: "local-1", RemoteCandidateID: "remote-1",
			State: webrtc.StatsICECandidatePairStateSucceeded, Nominated: true,
			PacketsSent: 3, PacketsReceived: 4, BytesSent: 300, BytesReceived: 400,
		},
		"pair-2": webrtc.ICECandidatePairStats{
			ID: "pair-2", Type: webrtc.StatsTypeCandidatePair,
			LocalCandidateID: "local-2", RemoteCandidateID: "remote-1",
			State: webrtc.StatsICECandidatePairStateInProgress,
		},
		"local-1": webrtc.ICECandidateStats{ID: "local-1", Type: webrtc.StatsTypeLocalCandidate, CandidateType: webrtc.ICECandidateTypeHost},
		"local-2": webrtc.ICECandidateStats{ID: "local-2", Type: webrtc.StatsTypeLocalCandidate, CandidateType: webrtc.ICECandidateTypeRelay},
		"remote-1": webrtc.ICECandidateStats{ID: "remote-1", Type: webrtc.StatsTypeRemoteCandidate, CandidateType: webrtc.ICECandidateTypeSrflx},
		"dc":       webrtc.DataChannelStats{ID: "dc", Type: webrtc.StatsTypeDataChannel},
	}
}

func TestConvertStatsSynthesizesTransport(t *testing.T) {
	out := convertStats(sampleReport(), "pair-2")

	assert.Equal(t, core.StatsEntry{ID: "transport", Type: core.StatsTypeTransport, SelectedCandidatePairID: "pair-2"}, out["transport"])
	assert.False(t, out["pair-1"].Selected)
	assert.Equal(t, "relay", out["local-2"].CandidateType)
	assert.Equal(t, core.StatsTypeRemoteCandidate, out["remote-1"].Type)
	assert.NotContains(t, out, "dc")
}

func TestConvertStatsFallsBackToNominatedPair(t *testing.T) {
	out := convertStats(sampleReport(), "")

	assert.NotContains(t, out, "transport")
	pair := out["pair-1"]
	assert.True(t, pair.Selected)
	assert.Equal(t, uint64(3), pair.PacketsSent)
	assert.Equal(t, uint64(4), pair.PacketsReceived)
	assert.Equal(t, uint64(300), pair.BytesSent)
	assert.Equal(t, uint64(400), pair.BytesReceived)
	assert.Equal(t, "host", out[pair.LocalCandidateID].CandidateType)
	assert.Equal(t, "srflx", out[pair.RemoteCandidateID].CandidateType)
}

func TestConvertStatsUnknownSelectedID(t *testing.T) {
	out := convertStats(sampleReport(), "gone")
	assert.NotContains(t, out, "transport")
	assert.True(t, out["pair-1"].Selected)
}

func TestParseICEServers(t *testing.T) {
	servers := ParseICEServers([]string{
		"stun:stun.example.org:3478",
		" ",
		"turn:bob:secret@turn.example.org:3478",
		"turns:turn.example.org:5349",
	})
	assert.Equal(t, []ICEServer{
		{URLs: []string{"stun:stun.example.org:3478"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "bob", Credential: "secret"},
		{URLs: []string{"turns:turn.example.org:5349"}},
	}, servers)

	cfg := Configuration(servers)
	assert.Len(t, cfg.ICEServers, 3)
	assert.Equal(t, "bob", cfg.ICEServers[1].Username)
	assert.Equal(t, "secret", cfg.ICEServers[1].Credential)
	assert.Empty(t, Configuration(nil).ICEServers)
}
