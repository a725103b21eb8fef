package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Board/internal/domain"
)

// DeviceMessage is one point-to-point message as delivered by the host.
type DeviceMessage struct {
	Sender  domain.UserID   `json:"sender"`
	Event   string          `json:"event"`
	Content json.RawMessage `json:"content"`
}

//go:generate mockgen -destination=mocks/mock_todevice.go -package=mocks github.com/dkeye/Board/internal/core ToDeviceTransport

// ToDeviceTransport sends to a specific user and receives messages for the
// local user. Delivery is at-most-once.
type ToDeviceTransport interface {
	UserID() domain.UserID
	SendToDevice(ctx context.Context, to domain.UserID, event string, content any) error
	// ObserveToDevice yields messages of the given event type until ctx ends.
	ObserveToDevice(ctx context.Context, event string) <-chan DeviceMessage
}

// Host bundles both host primitives; the adapters implement it in one type.
type Host interface {
	PresenceTable
	ToDeviceTransport
}
