package storage

import (
	"context"
	"sync"

	"pivotflow/internal/model"
)

// Memory is a process-local Store. It is the default backend and the test
// double used across the repo.
type Memory struct {
	mu     sync.Mutex
	items  []model.Notification
	sound  string
	saves  int
	closed bool
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) LoadNotifications(ctx context.Context) ([]model.Notification, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]model.Notification(nil), m.items...), nil
}

func (m *Memory) SaveNotifications(ctx context.Context, items []model.Notification) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.items = append([]model.Notification(nil), items...)
	m.saves++
	return nil
}

func (m *Memory) LoadSoundEnabled(ctx context.Context) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return true, ErrClosed
	}
	return parseSoundValue(m.sound), nil
}

func (m *Memory) SaveSoundEnabled(ctx context.Context, enabled bool) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.sound = formatSoundValue(enabled)
	return nil
}

// Saves reports how many collection snapshots were written.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
