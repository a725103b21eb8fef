package peer

import "github.com/dkeye/Board/internal/domain"

// negotiation holds the perfect negotiation flags of one connection. It is
// owned by the connection's event loop.
type negotiation struct {
	role        domain.Role
	makingOffer bool
	ignoreOffer bool
}

// remoteDescription decides what to do with an incoming description given
// the current signaling state. apply=false means drop it silently; rollback
// means the pending local offer must be rolled back before applying.
func (n *negotiation) remoteDescription(sd domain.SessionDescription, state domain.SignalingState) (apply, rollback bool) {
	collision := sd.Type == domain.SDPTypeOffer &&
		(n.makingOffer || state != domain.SignalingStateStable)
	n.ignoreOffer = n.role == domain.RoleImpolite && collision
	if n.ignoreOffer {
		return false, false
	}
	return true, collision && state != domain.SignalingStateStable
}
