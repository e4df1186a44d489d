package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pivotflow/internal/model"
	"pivotflow/internal/storage"
	logx "pivotflow/pkg/logx"
)

// MaxNotifications caps the committed collection.
const MaxNotifications = 100

// persistTimeout bounds one write-through of the collection.
const persistTimeout = 5 * time.Second

// Store owns the committed collection, newest first.
//
// Mutations write the whole collection through to the backend. Reads never
// mutate; they skip records that have expired by now.
type Store struct {
	mu      sync.Mutex
	items   []model.Notification
	backend storage.Store
	log     logx.Logger
	now     func() time.Time
}

func NewStore(backend storage.Store, log logx.Logger, now func() time.Time) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if backend == nil {
		backend = storage.NewMemory()
	}
	if now == nil {
		now = time.Now
	}
	return &Store{backend: backend, log: log, now: now}
}

// Load replaces the in-memory collection with the persisted one. Missing or
// unreadable snapshots yield an empty collection.
func (s *Store) Load(ctx context.Context) {
	items, err := s.backend.LoadNotifications(ctx)
	if err != nil {
		s.log.Warn("loading notifications failed; starting empty", logx.Err(err))
		items = nil
	}
	if len(items) > MaxNotifications {
		items = items[:MaxNotifications]
	}
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

// persistLocked must be called with s.mu held. The in-memory change is
// already applied, so the write ignores cancellation of ctx.
func (s *Store) persistLocked(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.backend.SaveNotifications(ctx, cloneAll(s.items)); err != nil {
		s.log.Warn("persisting notifications failed", logx.Int("count", len(s.items)), logx.Err(err))
		return fmt.Errorf("persist notifications: %w", err)
	}
	return nil
}

// Insert drops expired records, prepends n and truncates to MaxNotifications.
func (s *Store) Insert(ctx context.Context, n model.Notification, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make([]model.Notification, 0, len(s.items)+1)
	next = append(next, n)
	for _, it := range s.items {
		if it.Expired(now) {
			continue
		}
		next = append(next, it)
	}
	if len(next) > MaxNotifications {
		next = next[:MaxNotifications]
	}
	s.items = next
	return s.persistLocked(ctx)
}

// MarkRead reports whether a live record with id exists. Unknown and expired
// ids are a no-op.
func (s *Store) MarkRead(ctx context.Context, id string) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID != id || s.items[i].Expired(now) {
			continue
		}
		if s.items[i].Read {
			return true, nil
		}
		s.items[i].Read = true
		return true, s.persistLocked(ctx)
	}
	return false, nil
}

func (s *Store) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persistLocked(ctx)
}

// Delete reports whether a live record was removed. Expired records are left
// for Prune, matching what the reads can see.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id && !s.items[i].Expired(now) {
			s.items = append(s.items[:i:i], s.items[i+1:]...)
			return true, s.persistLocked(ctx)
		}
	}
	return false, nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil
	}
	s.items = nil
	return s.persistLocked(ctx)
}

// Clear removes records of the given main category, or all records when main
// is empty. It returns the number removed.
func (s *Store) Clear(ctx context.Context, main model.MainCategory) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if main == "" {
		n := len(s.items)
		if n == 0 {
			return 0, nil
		}
		s.items = nil
		return n, s.persistLocked(ctx)
	}
	kept := make([]model.Notification, 0, len(s.items))
	for _, it := range s.items {
		if it.Category.Main != main {
			kept = append(kept, it)
		}
	}
	removed := len(s.items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	s.items = kept
	return removed, s.persistLocked(ctx)
}

// Prune drops expired records and persists if anything changed.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]model.Notification, 0, len(s.items))
	for _, it := range s.items {
		if !it.Expired(now) {
			kept = append(kept, it)
		}
	}
	removed := len(s.items) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	s.items = kept
	return removed, s.persistLocked(ctx)
}

// UnreadCount counts unread records, scoped to main when it is non-empty.
func (s *Store) UnreadCount(main model.MainCategory) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, it := range s.items {
		if it.Read || it.Expired(now) {
			continue
		}
		if main != "" && it.Category.Main != main {
			continue
		}
		count++
	}
	return count
}

// Filtered returns records matching main, and sub when it is non-empty, in
// store order. An empty main matches every category.
func (s *Store) Filtered(main model.MainCategory, sub string) []model.Notification {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, 0, len(s.items))
	for _, it := range s.items {
		if it.Expired(now) {
			continue
		}
		if main != "" && it.Category.Main != main {
			continue
		}
		if sub != "" && it.Category.Sub != sub {
			continue
		}
		out = append(out, clone(it))
	}
	return out
}

func (s *Store) List() []model.Notification { return s.Filtered("", "") }

func (s *Store) Get(id string) (model.Notification, bool) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.items {
		if it.ID == id && !it.Expired(now) {
			return clone(it), true
		}
	}
	return model.Notification{}, false
}

// Len is the physical size of the collection, expired records included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func clone(n model.Notification) model.Notification {
	if n.Action != nil {
		a := *n.Action
		n.Action = &a
	}
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		n.ExpiresAt = &t
	}
	return n
}

func cloneAll(items []model.Notification) []model.Notification {
	out := make([]model.Notification, len(items))
	for i, it := range items {
		out[i] = clone(it)
	}
	return out
}
