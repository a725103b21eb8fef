package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				c.Close()
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cl *client) {
	defer func() {
		log.Info().Str("module", "signal").Str("user_id", string(cl.user)).Msg("readPump closing")
		cl.unsubscribeAll()
		cl.conn.Close()
	}()

	ws := cl.conn.conn
	pongWait := ctl.opts.PingPeriod * 10 / 9
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("user_id", string(cl.user)).Msg("readPump read error")
			}
			return
		}
		ctl.handleFrame(ctx, cl, data)
	}
}

func (ctl *Controller) handleFrame(ctx context.Context, cl *client, data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user_id", string(cl.user)).Msg("bad json")
		ctl.sendError(cl.conn, 0, ErrCodeBadPayload)
		return
	}

	switch f.Type {
	case FrameStateRead:
		ctl.handleStateRead(ctx, cl, f)
	case FrameStateWrite:
		ctl.handleStateWrite(ctx, cl, f)
	case FrameStateSubscribe:
		ctl.handleSubscribe(ctx, cl, f)
	case FrameStateUnsubscribe:
		cl.unsubscribe(f.Room)
	case FrameToDevice:
		ctl.handleToDevice(cl, f)
	case FramePing:
		ctl.handlePing(cl.conn)
	default:
		log.Warn().Str("module", "signal").Str("type", f.Type).Msg("unknown frame")
		ctl.sendError(cl.conn, f.ID, ErrCodeUnknownType)
	}
}

func (ctl *Controller) sendJSON(c *WsConn, f Frame) {
	b, err := json.Marshal(f)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	err = c.TrySend(b)
	if !errors.Is(err, ErrBackpressure) {
		return
	}
	switch ctl.opts.Policy.OnBackpressure(c.user, f.Type) {
	case KickClient:
		log.Warn().Str("module", "signal").Str("user_id", string(c.user)).Str("type", f.Type).Msg("client too slow, closing")
		c.Close()
	default:
		log.Warn().Str("module", "signal").Str("user_id", string(c.user)).Str("type", f.Type).Msg("sendJSON dropped")
	}
}

func (ctl *Controller) sendError(c *WsConn, id uint64, code string) {
	ctl.sendJSON(c, Frame{Type: FrameError, ID: id, Error: code})
}
