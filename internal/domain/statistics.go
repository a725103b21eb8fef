package domain

import "maps"

const (
	ConnectionStateConnected = "connected"
	ICEStateConnected        = "connected"
	ICEStateCompleted        = "completed"
	ICEStateFailed           = "failed"
	DataChannelStateOpen     = "open"
)

// PeerConnectionStatistics is a value snapshot; copying it is cloning it.
type PeerConnectionStatistics struct {
	RemoteUserID        UserID    `json:"remoteUserId"`
	RemoteSessionID     SessionID `json:"remoteSessionId"`
	Impolite            bool      `json:"impolite"`
	BytesSent           uint64    `json:"bytesSent"`
	BytesReceived       uint64    `json:"bytesReceived"`
	PacketsSent         uint64    `json:"packetsSent"`
	PacketsReceived     uint64    `json:"packetsReceived"`
	ConnectionState     string    `json:"connectionState"`
	SignalingState      string    `json:"signalingState"`
	ICEConnectionState  string    `json:"iceConnectionState"`
	ICEGatheringState   string    `json:"iceGatheringState"`
	DataChannelState    string    `json:"dataChannelState"`
	LocalCandidateType  string    `json:"localCandidateType,omitempty"`
	RemoteCandidateType string    `json:"remoteCandidateType,omitempty"`
}

// IsPeerConnected: the data channel is open and either the unified
// connection state or, for runtimes without it, the ICE state says connected.
func (s PeerConnectionStatistics) IsPeerConnected() bool {
	if s.DataChannelState != DataChannelStateOpen {
		return false
	}
	if s.ConnectionState == ConnectionStateConnected {
		return true
	}
	return s.ICEConnectionState == ICEStateConnected || s.ICEConnectionState == ICEStateCompleted
}

type CommunicationChannelStatistics struct {
	LocalSessionID  SessionID                                 `json:"localSessionId,omitempty"`
	PeerConnections map[ConnectionID]PeerConnectionStatistics `json:"peerConnections"`
	Sessions        []SessionRecord                           `json:"sessions"`
}

// Clone returns a copy that shares no maps or slices with s.
func (s CommunicationChannelStatistics) Clone() CommunicationChannelStatistics {
	out := CommunicationChannelStatistics{
		LocalSessionID:  s.LocalSessionID,
		PeerConnections: make(map[ConnectionID]PeerConnectionStatistics, len(s.PeerConnections)),
		Sessions:        append([]SessionRecord(nil), s.Sessions...),
	}
	maps.Copy(out.PeerConnections, s.PeerConnections)
	return out
}

// ConnectedSessions returns the remote session ids whose peer is connected.
func (s CommunicationChannelStatistics) ConnectedSessions() map[SessionID]struct{} {
	out := make(map[SessionID]struct{})
	for _, pc := range s.PeerConnections {
		if pc.IsPeerConnected() {
			out[pc.RemoteSessionID] = struct{}{}
		}
	}
	return out
}
