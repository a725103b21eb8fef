package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dkeye/Board/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) handleStateRead(ctx context.Context, cl *client, f Frame) {
	if f.Room == "" {
		ctl.sendError(cl.conn, f.ID, ErrCodeBadPayload)
		return
	}
	rows, err := ctl.hub.ReadRows(ctx, f.Room)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("whiteboard_id", string(f.Room)).Msg("state read")
		ctl.sendError(cl.conn, f.ID, ErrCodeInternal)
		return
	}
	ctl.sendJSON(cl.conn, Frame{Type: FrameState, ID: f.ID, Room: f.Room, Rows: rows})
}

// handleStateWrite replaces the caller's own row; a user can never write
// someone else's.
func (ctl *Controller) handleStateWrite(ctx context.Context, cl *client, f Frame) {
	var entries []domain.PresenceEntry
	if f.Room == "" || (len(f.Content) > 0 && json.Unmarshal(f.Content, &entries) != nil) {
		log.Warn().Str("module", "signal").Str("user_id", string(cl.user)).Msg("bad state_write payload")
		ctl.sendError(cl.conn, f.ID, ErrCodeBadPayload)
		return
	}

	err := ctl.hub.WriteRow(ctx, f.Room, cl.user, entries)
	switch {
	case errors.Is(err, domain.ErrWhiteboardLocked):
		ctl.sendError(cl.conn, f.ID, ErrCodeLocked)
		return
	case err != nil:
		log.Error().Err(err).Str("module", "signal").Str("whiteboard_id", string(f.Room)).Msg("state write")
		ctl.sendError(cl.conn, f.ID, ErrCodeInternal)
		return
	}
	ctl.handleStateRead(ctx, cl, f)
}

// handleSubscribe pushes the room's rows now and after every write until
// unsubscribed or disconnected. Repeated subscribes are ignored.
func (ctl *Controller) handleSubscribe(ctx context.Context, cl *client, f Frame) {
	if f.Room == "" {
		ctl.sendError(cl.conn, f.ID, ErrCodeBadPayload)
		return
	}
	cl.mu.Lock()
	if _, ok := cl.subs[f.Room]; ok {
		cl.mu.Unlock()
		return
	}
	subCtx, cancel := context.WithCancel(ctx)
	cl.subs[f.Room] = cancel
	cl.mu.Unlock()

	rows, err := ctl.hub.SubscribeRows(subCtx, f.Room)
	if err != nil {
		cl.unsubscribe(f.Room)
		log.Error().Err(err).Str("module", "signal").Str("whiteboard_id", string(f.Room)).Msg("subscribe")
		ctl.sendError(cl.conn, f.ID, ErrCodeInternal)
		return
	}
	log.Debug().Str("module", "signal").Str("user_id", string(cl.user)).Str("whiteboard_id", string(f.Room)).Msg("subscribed")
	go func() {
		for r := range rows {
			ctl.sendJSON(cl.conn, Frame{Type: FrameState, Room: f.Room, Rows: r})
		}
	}()
}

func (cl *client) unsubscribe(room domain.WhiteboardID) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cancel, ok := cl.subs[room]; ok {
		cancel()
		delete(cl.subs, room)
	}
}

func (cl *client) unsubscribeAll() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for room, cancel := range cl.subs {
		cancel()
		delete(cl.subs, room)
	}
}
