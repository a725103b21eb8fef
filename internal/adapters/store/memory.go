// Package store holds the host's presence row repositories.
package store

import (
	"context"
	"sync"

	"github.com/dkeye/Board/internal/domain"
)

type Memory struct {
	mu     sync.RWMutex
	rows   map[domain.WhiteboardID]domain.PresenceRows
	locked map[domain.WhiteboardID]bool
}

func NewMemory() *Memory {
	return &Memory{
		rows:   make(map[domain.WhiteboardID]domain.PresenceRows),
		locked: make(map[domain.WhiteboardID]bool),
	}
}

func (m *Memory) Rows(_ context.Context, room domain.WhiteboardID) (domain.PresenceRows, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows, ok := m.rows[room]
	if !ok {
		return domain.PresenceRows{}, nil
	}
	return rows.Clone(), nil
}

func (m *Memory) PutRow(_ context.Context, room domain.WhiteboardID, user domain.UserID, entries []domain.PresenceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.rows[room]
	if !ok {
		rows = make(domain.PresenceRows)
		m.rows[room] = rows
	}
	if len(entries) == 0 {
		delete(rows, user)
		return nil
	}
	rows[user] = append([]domain.PresenceEntry(nil), entries...)
	return nil
}

func (m *Memory) Locked(_ context.Context, room domain.WhiteboardID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.locked[room], nil
}

func (m *Memory) SetLocked(_ context.Context, room domain.WhiteboardID, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if locked {
		m.locked[room] = true
	} else {
		delete(m.locked, room)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
