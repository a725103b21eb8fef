package domain

// Role is the fixed negotiation role of the local side of a peer pair.
type Role int

const (
	RolePolite Role = iota
	RoleImpolite
)

func (r Role) String() string {
	if r == RoleImpolite {
		return "impolite"
	}
	return "polite"
}

// ConnectionID keys all signaling and statistics of one negotiated pair.
type ConnectionID string

// RoleFor derives the local role: the lexicographically greater session id is
// impolite. Both sides compute complementary roles without a handshake.
func RoleFor(local, remote SessionID) Role {
	if local > remote {
		return RoleImpolite
	}
	return RolePolite
}

// NewConnectionID returns impolite + "_" + polite regardless of which side
// computes it.
func NewConnectionID(a, b SessionID) ConnectionID {
	if a > b {
		return ConnectionID(string(a) + "_" + string(b))
	}
	return ConnectionID(string(b) + "_" + string(a))
}
