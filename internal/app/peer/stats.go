package peer

import (
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
)

// selectedPair finds the candidate pair in use: through the transport
// entry when the engine reports one, otherwise the pair flagged selected.
func selectedPair(report core.StatsReport) (core.StatsEntry, bool) {
	for _, e := range report {
		if e.Type != core.StatsTypeTransport || e.SelectedCandidatePairID == "" {
			continue
		}
		if pair, ok := report[e.SelectedCandidatePairID]; ok {
			return pair, true
		}
	}
	for _, e := range report {
		if e.Type == core.StatsTypeCandidatePair && e.Selected {
			return e, true
		}
	}
	return core.StatsEntry{}, false
}

// applyReport copies counters and candidate types of the selected pair into
// s. Without a selected pair s is left untouched.
func applyReport(s *domain.PeerConnectionStatistics, report core.StatsReport) {
	pair, ok := selectedPair(report)
	if !ok {
		return
	}
	s.BytesSent = pair.BytesSent
	s.BytesReceived = pair.BytesReceived
	s.PacketsSent = pair.PacketsSent
	s.PacketsReceived = pair.PacketsReceived
	if local, ok := report[pair.LocalCandidateID]; ok {
		s.LocalCandidateType = local.CandidateType
	}
	if remote, ok := report[pair.RemoteCandidateID]; ok {
		s.RemoteCandidateType = remote.CandidateType
	}
}
