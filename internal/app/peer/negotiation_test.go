package peer

import (
	"testing"

	"github.com/dkeye/Board/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestNegotiationRemoteDescription(t *testing.T) {
	offer := domain.SessionDescription{Type: domain.SDPTypeOffer}
	answer := domain.SessionDescription{Type: domain.SDPTypeAnswer}

	tests := []struct {
		name         string
		role         domain.Role
		makingOffer  bool
		state        domain.SignalingState
		sd           domain.SessionDescription
		wantApply    bool
		wantRollback bool
		wantIgnore   bool
	}{
		{"offer in stable", domain.RoleImpolite, false, domain.SignalingStateStable, offer, true, false, false},
		{"impolite glare", domain.RoleImpolite, false, domain.SignalingStateHaveLocalOffer, offer, false, false, true},
		{"impolite making offer", domain.RoleImpolite, true, domain.SignalingStateStable, offer, false, false, true},
		{"polite glare rolls back", domain.RolePolite, false, domain.SignalingStateHaveLocalOffer, offer, true, true, false},
		{"polite making offer in stable", domain.RolePolite, true, domain.SignalingStateStable, offer, true, false, false},
		{"answer never collides", domain.RoleImpolite, true, domain.SignalingStateHaveLocalOffer, answer, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := negotiation{role: tt.role, makingOffer: tt.makingOffer}
			apply, rollback := n.remoteDescription(tt.sd, tt.state)
			assert.Equal(t, tt.wantApply, apply)
			assert.Equal(t, tt.wantRollback, rollback)
			assert.Equal(t, tt.wantIgnore, n.ignoreOffer)
		})
	}
}

func TestNegotiationIgnoreOfferResetsOnNextDescription(t *testing.T) {
	n := negotiation{role: domain.RoleImpolite}
	n.remoteDescription(domain.SessionDescription{Type: domain.SDPTypeOffer}, domain.SignalingStateHaveLocalOffer)
	assert.True(t, n.ignoreOffer)
	n.remoteDescription(domain.SessionDescription{Type: domain.SDPTypeAnswer}, domain.SignalingStateHaveLocalOffer)
	assert.False(t, n.ignoreOffer)
}
