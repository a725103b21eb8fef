package signal

import (
	"errors"

	"github.com/dkeye/Board/internal/app/hub"
	"github.com/dkeye/Board/internal/core"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) handleToDevice(cl *client, f Frame) {
	if f.To == "" || f.Event == "" {
		ctl.sendError(cl.conn, f.ID, ErrCodeBadPayload)
		return
	}
	err := ctl.hub.SendToDevice(cl.user, f.To, f.Event, f.Content)
	switch {
	case errors.Is(err, hub.ErrRateLimited):
		ctl.sendError(cl.conn, f.ID, ErrCodeRateLimited)
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("user_id", string(cl.user)).Msg("to-device")
		ctl.sendError(cl.conn, f.ID, ErrCodeInternal)
	}
}

// forwardToDevice relays messages addressed to the connection's user until
// the connection ends.
func (ctl *Controller) forwardToDevice(cl *client, inbox <-chan core.DeviceMessage) {
	for m := range inbox {
		ctl.sendJSON(cl.conn, Frame{Type: FrameToDevice, Sender: m.Sender, Event: m.Event, Content: m.Content})
	}
}
