package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"pivotflow/internal/model"
	logx "pivotflow/pkg/logx"
)

// fileStore keeps each slot in its own file:
//   - <prefix>.notifications.json (snapshot, replaced atomically)
//   - <prefix>.sound              ("true" / "false")
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	closed bool

	notificationsPath string
	soundPath         string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:               log,
		notificationsPath: prefix + "." + notificationsKey + ".json",
		soundPath:         prefix + ".sound",
	}, nil
}

func (s *fileStore) LoadNotifications(ctx context.Context) ([]model.Notification, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	b, err := os.ReadFile(s.notificationsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []model.Notification
	if err := json.Unmarshal(b, &items); err != nil {
		s.log.Warn("notification snapshot unreadable; starting empty", logx.String("path", s.notificationsPath), logx.Err(err))
		return nil, nil
	}
	return items, nil
}

func (s *fileStore) SaveNotifications(ctx context.Context, items []model.Notification) error {
	_ = ctx
	if items == nil {
		items = []model.Notification{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeAtomic(s.notificationsPath, b)
}

func (s *fileStore) LoadSoundEnabled(ctx context.Context) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true, ErrClosed
	}
	b, err := os.ReadFile(s.soundPath)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	return parseSoundValue(strings.TrimSpace(string(b))), nil
}

func (s *fileStore) SaveSoundEnabled(ctx context.Context, enabled bool) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeAtomic(s.soundPath, []byte(formatSoundValue(enabled)))
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// writeAtomic replaces path via a temp file + rename so readers never observe
// a half-written snapshot.
func writeAtomic(path string, b []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
