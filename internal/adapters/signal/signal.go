// Package signal is the host's websocket endpoint: presence row access and
// to-device routing for connected participants.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Board/internal/app/hub"
	"github.com/dkeye/Board/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const sendBuffer = 64

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	// Policy defaults to StatePolicy.
	Policy Policy
}

type Controller struct {
	hub  *hub.Hub
	opts Options
}

func NewController(h *hub.Hub, opts Options) *Controller {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = StatePolicy{}
	}
	return &Controller{hub: h, opts: opts}
}

type WsConn struct {
	user domain.UserID
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is one attached websocket with its room subscriptions.
type client struct {
	user domain.UserID
	conn *WsConn

	mu   sync.Mutex
	subs map[domain.WhiteboardID]context.CancelFunc
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConnect upgrades the request. The user comes from ?user= and falls
// back to the client token cookie.
func (ctl *Controller) HandleConnect(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.Query("user"))
	if user == "" {
		user = domain.UserID(c.GetString("client_token"))
	}
	if err := domain.ValidateUserID(user); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// subscribe before the handshake completes so nothing sent right after
	// the client connects is lost
	ctx, cancel := context.WithCancel(ctx)
	inbox := ctl.hub.ObserveToDevice(ctx, user)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("user_id", string(user)).Msg("new WS connection")

	cl := &client{
		user: user,
		conn: &WsConn{user: user, conn: ws, send: make(chan []byte, sendBuffer)},
		subs: make(map[domain.WhiteboardID]context.CancelFunc),
	}
	device := ctl.hub.Devices().Bind(user, cancel)

	go ctl.writePump(ctx, cl.conn)
	go ctl.forwardToDevice(cl, inbox)
	go func() {
		ctl.readPump(ctx, cl)
		cancel()
		ctl.hub.Devices().Unbind(device)
	}()
}
