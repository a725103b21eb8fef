package domain

// SDPType mirrors the session description types of the transport layer.
type SDPType string

const (
	SDPTypeOffer    SDPType = "offer"
	SDPTypeAnswer   SDPType = "answer"
	SDPTypePranswer SDPType = "pranswer"
	SDPTypeRollback SDPType = "rollback"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate is the trickle payload. A nil *ICECandidate or one with an
// empty Candidate string both mean end-of-candidates.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// IsEndOfCandidates covers both termination signals engines use.
func IsEndOfCandidates(c *ICECandidate) bool {
	return c == nil || c.Candidate == ""
}

// SignalingMessage is what a peer receives from the relay for one connection:
// a description, a candidate batch, or both.
type SignalingMessage struct {
	Description *SessionDescription `json:"description,omitempty"`
	Candidates  []*ICECandidate     `json:"candidates,omitempty"`
}

type SignalingState string

const (
	SignalingStateStable             SignalingState = "stable"
	SignalingStateHaveLocalOffer     SignalingState = "have-local-offer"
	SignalingStateHaveRemoteOffer    SignalingState = "have-remote-offer"
	SignalingStateHaveLocalPranswer  SignalingState = "have-local-pranswer"
	SignalingStateHaveRemotePranswer SignalingState = "have-remote-pranswer"
	SignalingStateClosed             SignalingState = "closed"
)

// Visibility of the hosting surface.
type Visibility string

const (
	VisibilityVisible Visibility = "visible"
	VisibilityHidden  Visibility = "hidden"
)
