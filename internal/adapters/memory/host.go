// Package memory connects participants to an in-process hub. Used by tests
// and the loopback demo.
package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Board/internal/adapters/store"
	"github.com/dkeye/Board/internal/app/hub"
	"github.com/dkeye/Board/internal/core"
	"github.com/dkeye/Board/internal/domain"
)

// NewHub returns a hub backed by the memory row store.
func NewHub() *hub.Hub {
	return hub.New(store.NewMemory(), hub.Options{})
}

// Client is one user's view of the hub. It implements core.Host.
type Client struct {
	hub  *hub.Hub
	user domain.UserID
}

var _ core.Host = (*Client)(nil)

func NewClient(h *hub.Hub, user domain.UserID) *Client {
	return &Client{hub: h, user: user}
}

func (c *Client) UserID() domain.UserID { return c.user }

func (c *Client) ReadRows(ctx context.Context, wb domain.WhiteboardID) (domain.PresenceRows, error) {
	return c.hub.ReadRows(ctx, wb)
}

func (c *Client) WriteOwnRow(ctx context.Context, wb domain.WhiteboardID, entries []domain.PresenceEntry) error {
	return c.hub.WriteRow(ctx, wb, c.user, entries)
}

func (c *Client) ObserveRows(ctx context.Context, wb domain.WhiteboardID) (<-chan domain.PresenceRows, error) {
	return c.hub.SubscribeRows(ctx, wb)
}

func (c *Client) SendToDevice(_ context.Context, to domain.UserID, event string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode to-device content: %w", err)
	}
	return c.hub.SendToDevice(c.user, to, event, raw)
}

func (c *Client) ObserveToDevice(ctx context.Context, event string) <-chan core.DeviceMessage {
	in := c.hub.ObserveToDevice(ctx, c.user)
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
