package rtc

import (
	"slices"

	"github.com/dkeye/Board/internal/core"
	"github.com/pion/webrtc/v4"
)

const transportStatsID = "transport"

// convertStats flattens a pion report. Pion has no transport entry naming
// the selected pair, so one is synthesized from selectedPairID; without it
// the nominated succeeded pair is flagged Selected instead.
func convertStats(report webrtc.StatsReport, selectedPairID string) core.StatsReport {
	out := make(core.StatsReport, len(report)+1)
	var nominated []string
	for id, s := range report {
		switch v := s.(type) {
		case webrtc.ICECandidatePairStats:
			out[id] = core.StatsEntry{
				ID:                id,
				Type:              core.StatsTypeCandidatePair,
				LocalCandidateID:  v.LocalCandidateID,
				RemoteCandidateID: v.RemoteCandidateID,
				BytesSent:         v.BytesSent,
				BytesReceived:     v.BytesReceived,
				PacketsSent:       uint64(v.PacketsSent),
				PacketsReceived:   uint64(v.PacketsReceived),
			}
			if v.Nominated && v.State == webrtc.StatsICECandidatePairStateSucceeded {
				nominated = append(nominated, id)
			}
		case webrtc.ICECandidateStats:
			typ := core.StatsTypeRemoteCandidate
			if v.Type == webrtc.StatsTypeLocalCandidate {
				typ = core.StatsTypeLocalCandidate
			}
			out[id] = core.StatsEntry{ID: id, Type: typ, CandidateType: v.CandidateType.String()}
		}
	}

	if _, ok := out[selectedPairID]; ok && selectedPairID != "" {
		out[transportStatsID] = core.StatsEntry{
			ID:                      transportStatsID,
			Type:                    core.StatsTypeTransport,
			SelectedCandidatePairID: selectedPairID,
		}
		return out
	}
	if len(nominated) > 0 {
		slices.Sort(nominated)
		e := out[nominated[0]]
		e.Selected = true
		out[nominated[0]] = e
	}
	return out
}
