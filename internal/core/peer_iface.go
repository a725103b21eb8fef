package core

import (
	"context"

	"github.com/dkeye/Board/internal/domain"
)

type TransportEventKind int

const (
	EventNegotiationNeeded TransportEventKind = iota
	// EventICECandidate carries a nil Candidate at end of gathering.
	EventICECandidate
	EventConnectionStateChange
	EventICEConnectionStateChange
	EventICEGatheringStateChange
	EventSignalingStateChange
	// EventDataChannel announces a channel opened by the remote side.
	EventDataChannel
)

type TransportEvent struct {
	Kind      TransportEventKind
	Candidate *domain.ICECandidate
	State     string
	Channel   DataChannel
}

// PeerTransport is the capability set of one underlying peer connection.
// Events is single-consumer and closed by Close.
type PeerTransport interface {
	Events() <-chan TransportEvent

	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetLocalDescription(ctx context.Context, sd domain.SessionDescription) error
	SetRemoteDescription(ctx context.Context, sd domain.SessionDescription) error
	AddICECandidate(ctx context.Context, c *domain.ICECandidate) error

	SignalingState() domain.SignalingState
	ConnectionState() string
	ICEConnectionState() string
	ICEGatheringState() string

	CreateDataChannel(label string) (DataChannel, error)
	GetStats(ctx context.Context) (StatsReport, error)
	// RestartICE makes the next offer an ICE restart and requests
	// negotiation.
	RestartICE()
	Close() error
}

type PeerTransportFactory interface {
	NewPeerTransport(ctx context.Context) (PeerTransport, error)
}

type DataChannelEventKind int

const (
	DataChannelOpened DataChannelEventKind = iota
	DataChannelMessage
	DataChannelClosed
)

type DataChannelEvent struct {
	Kind DataChannelEventKind
	Data string
}

type DataChannel interface {
	Label() string
	ReadyState() string
	SendText(s string) error
	// Events is single-consumer and closed once the channel closes.
	Events() <-chan DataChannelEvent
	Close() error
}

const (
	StatsTypeTransport       = "transport"
	StatsTypeCandidatePair   = "candidate-pair"
	StatsTypeLocalCandidate  = "local-candidate"
	StatsTypeRemoteCandidate = "remote-candidate"
)

// StatsEntry flattens the fields read from transport, candidate-pair and
// candidate entries.
type StatsEntry struct {
	ID   string
	Type string

	// transport
	SelectedCandidatePairID string

	// candidate-pair
	Selected          bool
	LocalCandidateID  string
	RemoteCandidateID string
	BytesSent         uint64
	BytesReceived     uint64
	PacketsSent       uint64
	PacketsReceived   uint64

	// local-candidate / remote-candidate
	CandidateType string
}

type StatsReport map[string]StatsEntry
