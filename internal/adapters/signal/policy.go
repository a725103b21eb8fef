package signal

import "github.com/dkeye/Board/internal/domain"

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	KickClient
)

// Policy decides what happens when a client's send buffer is full.
type Policy interface {
	OnBackpressure(user domain.UserID, frameType string) BackpressureAction
}

// StatePolicy kicks clients that miss a state or to_device frame, since a
// client cannot recover those, and drops everything else.
type StatePolicy struct{}

func (StatePolicy) OnBackpressure(_ domain.UserID, frameType string) BackpressureAction {
	switch frameType {
	case FrameState, FrameToDevice:
		return KickClient
	default:
		return DropFrame
	}
}
