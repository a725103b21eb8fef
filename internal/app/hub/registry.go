package hub

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/Board/internal/domain"
	"github.com/rs/zerolog/log"
)

type DeviceID uint64

type deviceEntry struct {
	User   domain.UserID
	Cancel context.CancelFunc
}

// Registry tracks attached client connections so they can be listed and
// cancelled on shutdown.
type Registry struct {
	mu      sync.RWMutex
	next    atomic.Uint64
	devices map[DeviceID]*deviceEntry
}

func NewRegistry() *Registry {
	return &Registry{devices: make(map[DeviceID]*deviceEntry)}
}

func (r *Registry) Bind(user domain.UserID, cancel context.CancelFunc) DeviceID {
	id := DeviceID(r.next.Add(1))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[id] = &deviceEntry{User: user, Cancel: cancel}
	log.Info().Str("module", "hub.registry").Str("user_id", string(user)).Uint64("device", uint64(id)).Msg("bound device")
	return id
}

func (r *Registry) Unbind(id DeviceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.devices[id]; ok {
		delete(r.devices, id)
		log.Info().Str("module", "hub.registry").Str("user_id", string(e.User)).Uint64("device", uint64(id)).Msg("unbind device")
	}
}

// Users returns the number of attached connections per user.
func (r *Registry) Users() map[domain.UserID]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.UserID]int)
	for _, e := range r.devices {
		out[e.User]++
	}
	return out
}

func (r *Registry) CancelAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.devices {
		if e.Cancel != nil {
			e.Cancel()
		}
	}
}

// Kick cancels every connection of user and returns how many it found.
func (r *Registry) Kick(user domain.UserID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for id, e := range r.devices {
		if e.User != user {
			continue
		}
		n++
		if e.Cancel != nil {
			e.Cancel()
		}
		log.Info().Str("module", "hub.registry").Str("user_id", string(user)).Uint64("device", uint64(id)).Msg("kicked device")
	}
	return n
}
