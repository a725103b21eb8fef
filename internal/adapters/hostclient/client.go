// Package hostclient connects a participant to the host service over a
// websocket and exposes it as the presence table and to-device transport.
package hostclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Board/internal/adapters/signal"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
	"github.com/dkeye/Board/internal/stream"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var (
	ErrClosed       = errors.New("host connection closed")
	ErrDisconnected = errors.New("host connection lost")
	ErrBackpressure = errors.New("host send queue full")
)

// HostError is an error frame returned for a request.
type HostError struct {
	Code string
}

func (e *HostError) Error() string { return "host: " + e.Code }

const (
	sendBuffer = 256
	writeWait  = 5 * time.Second
	redialMin  = 250 * time.Millisecond
	redialMax  = 10 * time.Second
)

// link is one websocket connection. The client replaces it when the host
// drops it.
type link struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (l *link) teardown() {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Close()
	})
}

// Client survives dropped connections: it redials, re-subscribes every
// observed room and the host pushes fresh rows. Streams end only on Close.
type Client struct {
	user   domain.UserID
	server string
	url    string
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup
	nextID atomic.Uint64

	mu       sync.Mutex
	closed   bool
	link     *link
	pending  map[uint64]chan signal.Frame
	rooms    map[domain.WhiteboardID]*stream.Subject[domain.PresenceRows]
	toDevice *stream.Subject[core.DeviceMessage]
}

var _ core.Host = (*Client)(nil)

// Dial connects to serverURL (ws://host/api/ws) as user. Only the first
// connection attempt is bounded by ctx.
func Dial(ctx context.Context, serverURL string, user domain.UserID) (*Client, error) {
	if err := domain.ValidateUserID(user); err != nil {
		return nil, err
	}
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	q := u.Query()
	q.Set("user", string(user))
	u.RawQuery = q.Encode()

	cctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		user:     user,
		server:   serverURL,
		url:      u.String(),
		log:      log.With().Str("module", "hostclient").Str("user_id", string(user)).Logger(),
		ctx:      cctx,
		cancel:   cancel,
		pending:  make(map[uint64]chan signal.Frame),
		rooms:    make(map[domain.WhiteboardID]*stream.Subject[domain.PresenceRows]),
		toDevice: stream.NewSubject[core.DeviceMessage](),
	}
	l, err := c.connect(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	c.link = l
	c.wg.Go(func() { c.run(l) })
	c.log.Info().Str("url", serverURL).Msg("connected to host")
	return c, nil
}

func (c *Client) connect(ctx context.Context) (*link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.server, err)
	}
	return &link{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}, nil
}

// run serves one link at a time until Close.
func (c *Client) run(l *link) {
	for {
		var wg conc.WaitGroup
		wg.Go(func() { c.writeLoop(l) })
		c.readLoop(l)
		wg.Wait()

		if !c.detach(l) {
			return
		}
		c.log.Warn().Msg("host connection lost, redialing")
		next, ok := c.redial()
		if !ok {
			return
		}
		l = next
	}
}

// detach forgets a dead link and fails requests that were waiting on it.
// It reports whether the client is still open.
func (c *Client) detach(l *link) bool {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	pending := c.pending
	c.pending = make(map[uint64]chan signal.Frame)
	open := !c.closed
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	return open
}

func (c *Client) redial() (*link, bool) {
	delay := redialMin
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, false
		case <-timer.C:
		}
		l, err := c.connect(c.ctx)
		if err != nil {
			delay = min(delay*2, redialMax)
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("redial")
			continue
		}
		if !c.attach(l) {
			l.teardown()
			return nil, false
		}
		c.log.Info().Int("attempt", attempt).Msg("reconnected to host")
		return l, true
	}
}

// attach installs l and queues a subscribe for every observed room ahead
// of any other frame, so the host pushes each room's current rows again.
func (c *Client) attach(l *link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	for room := range c.rooms {
		b, err := json.Marshal(signal.Frame{Type: signal.FrameStateSubscribe, Room: room})
		if err != nil {
			c.log.Error().Err(err).Str("whiteboard_id", string(room)).Msg("encode subscribe")
			continue
		}
		select {
		case l.send <- b:
		default:
			c.log.Warn().Str("whiteboard_id", string(room)).Msg("resubscribe dropped")
		}
	}
	c.link = l
	return true
}

func (c *Client) UserID() domain.UserID { return c.user }

func (c *Client) ReadRows(ctx context.Context, wb domain.WhiteboardID) (domain.PresenceRows, error) {
	reply, err := c.request(ctx, signal.Frame{Type: signal.FrameStateRead, Room: wb})
	if err != nil {
		return nil, err
	}
	return rowsOf(reply), nil
}

func (c *Client) WriteOwnRow(ctx context.Context, wb domain.WhiteboardID, entries []domain.PresenceEntry) error {
	content, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	_, err = c.request(ctx, signal.Frame{Type: signal.FrameStateWrite, Room: wb, Content: content})
	var hostErr *HostError
	if errors.As(err, &hostErr) && hostErr.Code == signal.ErrCodeLocked {
		return domain.ErrWhiteboardLocked
	}
	return err
}

// ObserveRows subscribes to the room once per client; later observers get
// the latest rows first.
func (c *Client) ObserveRows(ctx context.Context, wb domain.WhiteboardID) (<-chan domain.PresenceRows, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	subject, ok := c.rooms[wb]
	if !ok {
		subject = stream.NewReplayLatest[domain.PresenceRows]()
		c.rooms[wb] = subject
	}
	c.mu.Unlock()

	ch := subject.Subscribe(ctx)
	if !ok {
		err := c.write(signal.Frame{Type: signal.FrameStateSubscribe, Room: wb})
		if err != nil && !errors.Is(err, ErrDisconnected) {
			c.mu.Lock()
			delete(c.rooms, wb)
			c.mu.Unlock()
			subject.Complete()
			return nil, err
		}
	}
	return ch, nil
}

func (c *Client) SendToDevice(_ context.Context, to domain.UserID, event string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode to-device content: %w", err)
	}
	return c.write(signal.Frame{Type: signal.FrameToDevice, To: to, Event: event, Content: raw})
}

func (c *Client) ObserveToDevice(ctx context.Context, event string) <-chan core.DeviceMessage {
	in := c.toDevice.Subscribe(ctx)
	out := make(chan core.DeviceMessage)
	go func() {
		defer close(out)
		for m := range in {
			if m.Event != event {
				continue
			}
			select {
			case out <- m:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Done is closed once the client is closed. A dropped connection is
// redialed and does not close it.
func (c *Client) Done() <-chan struct{} { return c.ctx.Done() }

// Close ends the connection, fails pending requests and completes every
// stream. Idempotent.
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	l := c.link
	c.link = nil
	pending := c.pending
	c.pending = make(map[uint64]chan signal.Frame)
	rooms := c.rooms
	c.rooms = make(map[domain.WhiteboardID]*stream.Subject[domain.PresenceRows])
	c.mu.Unlock()

	c.cancel()
	for _, ch := range pending {
		close(ch)
	}
	for _, s := range rooms {
		s.Complete()
	}
	c.toDevice.Complete()
	if l != nil {
		_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		l.teardown()
	}
	c.log.Info().Msg("host connection closed")
}

func (c *Client) request(ctx context.Context, f signal.Frame) (signal.Frame, error) {
	f.ID = c.nextID.Add(1)
	reply := make(chan signal.Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return signal.Frame{}, ErrClosed
	}
	c.pending[f.ID] = reply
	c.mu.Unlock()

	if err := c.write(f); err != nil {
		c.forget(f.ID)
		return signal.Frame{}, err
	}
	select {
	case r, ok := <-reply:
		if !ok {
			if c.ctx.Err() != nil {
				return signal.Frame{}, ErrClosed
			}
			return signal.Frame{}, ErrDisconnected
		}
		if r.Type == signal.FrameError {
			return r, &HostError{Code: r.Error}
		}
		return r, nil
	case <-ctx.Done():
		c.forget(f.ID)
		return signal.Frame{}, ctx.Err()
	}
}

func (c *Client) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) write(f signal.Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.link == nil {
		return ErrDisconnected
	}
	select {
	case c.link.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) writeLoop(l *link) {
	for {
		select {
		case <-l.done:
			return
		case data := <-l.send:
			if err := l.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.log.Error().Err(err).Msg("set write deadline")
				l.teardown()
				return
			}
			if err := l.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				if c.ctx.Err() == nil {
					c.log.Warn().Err(err).Msg("write")
				}
				l.teardown()
				return
			}
		}
	}
}

func (c *Client) readLoop(l *link) {
	defer l.teardown()
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("read")
			}
			return
		}
		var f signal.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn().Err(err).Msg("bad frame from host")
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f signal.Frame) {
	switch {
	case f.ID != 0 && (f.Type == signal.FrameState || f.Type == signal.FrameError):
		c.mu.Lock()
		reply, ok := c.pending[f.ID]
		delete(c.pending, f.ID)
		c.mu.Unlock()
		if ok {
			reply <- f
		}
	case f.Type == signal.FrameState:
		c.mu.Lock()
		subject := c.rooms[f.Room]
		c.mu.Unlock()
		if subject != nil {
			subject.Publish(rowsOf(f))
		}
	case f.Type == signal.FrameToDevice:
		c.toDevice.Publish(core.DeviceMessage{Sender: f.Sender, Event: f.Event, Content: f.Content})
	case f.Type == signal.FrameError:
		c.log.Warn().Str("error", f.Error).Msg("host error")
	case f.Type == signal.FramePong:
	default:
		c.log.Debug().Str("type", f.Type).Msg("ignoring frame")
	}
}

func rowsOf(f signal.Frame) domain.PresenceRows {
	if f.Rows == nil {
		return domain.PresenceRows{}
	}
	return f.Rows
}
