package storage

import (
	"context"
	"errors"
	"time"

	"pivotflow/internal/model"
)

var ErrClosed = errors.New("storage closed")

// Store is the persistence API used by the notifier.
type Store interface {
	// LoadNotifications returns the last saved collection, newest first.
	// A missing or corrupt snapshot yields (nil, nil).
	LoadNotifications(ctx context.Context) ([]model.Notification, error)
	// SaveNotifications overwrites the stored collection.
	SaveNotifications(ctx context.Context, items []model.Notification) error
	// LoadSoundEnabled returns true unless "false" was saved.
	LoadSoundEnabled(ctx context.Context) (bool, error)
	SaveSoundEnabled(ctx context.Context, enabled bool) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "memory" (or empty/"none"): process-local, nothing survives a restart
//   - "file": JSON snapshot files next to Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Keys of the two persisted slots. The file backend derives file names from
// them and the sqlite backend uses soundKey in its settings table.
const (
	notificationsKey = "notifications"
	soundKey         = "notificationSound"
)

func parseSoundValue(v string) bool {
	return v != "false"
}

func formatSoundValue(enabled bool) string {
	if enabled {
		return "true"
	}
	return "false"
}
