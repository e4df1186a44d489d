package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pivotflow/internal/eventbus"
	"pivotflow/internal/model"
	rtsup "pivotflow/internal/runtime/supervisor"
	"pivotflow/internal/storage"
	logx "pivotflow/pkg/logx"
)

var ErrAlreadyStarted = errors.New("notifier already started")

// Options wires a Service. Every field is optional.
type Options struct {
	Storage storage.Store
	Sound   SoundPlayer
	System  SystemNotifier
	Bus     eventbus.Bus
	Log     logx.Logger

	// Clock and NewID are replaced in tests.
	Clock func() time.Time
	NewID func() string

	// TickEvery is the cadence of the periodic dispatcher. Defaults to
	// ThrottleInterval; the throttle gate itself is fixed.
	TickEvery time.Duration
}

// Service is the notification subsystem instance handed to consumers.
//
// It is safe for concurrent use.
type Service struct {
	log     logx.Logger
	bus     eventbus.Bus
	backend storage.Store
	sound   SoundPlayer
	system  SystemNotifier

	now       func() time.Time
	newID     func() string
	tickEvery time.Duration

	queue *Queue
	store *Store

	// dispatchMu serialises the gate check with the commit.
	dispatchMu   sync.Mutex
	lastDispatch time.Time

	mu           sync.Mutex
	soundEnabled bool
	loop         *Loop
	sup          *rtsup.Supervisor
}

func New(opts Options) *Service {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notifier"))
	backend := opts.Storage
	if backend == nil {
		backend = storage.NewMemory()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	tick := opts.TickEvery
	if tick <= 0 {
		tick = ThrottleInterval
	}
	return &Service{
		log:          log,
		bus:          opts.Bus,
		backend:      backend,
		sound:        opts.Sound,
		system:       opts.System,
		now:          now,
		newID:        newID,
		tickEvery:    tick,
		queue:        &Queue{},
		store:        NewStore(backend, log, now),
		soundEnabled: true,
	}
}

// Load restores the committed collection and the sound preference from
// storage. Missing or unreadable state leaves the defaults in place.
func (s *Service) Load(ctx context.Context) {
	s.store.Load(ctx)
	on, err := s.backend.LoadSoundEnabled(ctx)
	if err != nil {
		s.log.Warn("loading sound preference failed", logx.Err(err))
		on = true
	}
	s.mu.Lock()
	s.soundEnabled = on
	s.mu.Unlock()
	s.log.Info("notifications restored", logx.Int("count", s.store.Len()), logx.Bool("sound", on))
}

// Start solicits system notification permission once and launches the
// periodic dispatcher under a supervisor. The returned Loop stops it.
func (s *Service) Start(ctx context.Context) (*Loop, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.loop != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	loop := &Loop{}
	loop.stop = func(c context.Context) error {
		err := sup.Stop(c)
		s.mu.Lock()
		if s.loop == loop {
			s.loop = nil
			s.sup = nil
		}
		s.mu.Unlock()
		return err
	}
	s.loop = loop
	s.sup = sup
	s.mu.Unlock()

	s.requestPermission(ctx)

	sup.GoRestart("dispatch", func(c context.Context) error {
		return s.runTicker(c)
	}, rtsup.WithRestartBackoff(100*time.Millisecond, 5*time.Second))
	return loop, nil
}

func (s *Service) requestPermission(ctx context.Context) {
	if s.system == nil || s.system.Permission() != PermissionDefault {
		return
	}
	req, ok := s.system.(PermissionRequester)
	if !ok {
		return
	}
	p := req.RequestPermission(ctx)
	s.log.Info("system notification permission", logx.String("permission", string(p)))
}

// Stop stops the running dispatcher, if any.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	loop := s.loop
	s.mu.Unlock()
	return loop.Stop(ctx)
}

// Supervisor returns the dispatcher supervisor, or nil when not started.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Submit queues one request and runs a dispatch check right away, so the
// first request after an idle interval commits synchronously.
func (s *Service) Submit(ctx context.Context, req model.PendingRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	s.queue.Enqueue(req)
	s.publish(EventQueued, time.Time{}, QueuedEvent{Title: req.Title, Category: req.Category, QueueLen: s.queue.Len()})
	s.Tick(ctx, s.now())
	return nil
}

// SubmitMany queues every request in order. Nothing is queued if any request
// is invalid.
func (s *Service) SubmitMany(ctx context.Context, reqs []model.PendingRequest) error {
	for i, r := range reqs {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("request %d: %w", i, err)
		}
	}
	if len(reqs) == 0 {
		return nil
	}
	s.queue.EnqueueMany(reqs)
	for _, r := range reqs {
		s.publish(EventQueued, time.Time{}, QueuedEvent{Title: r.Title, Category: r.Category, QueueLen: s.queue.Len()})
	}
	s.Tick(ctx, s.now())
	return nil
}

func (s *Service) MarkRead(ctx context.Context, id string) (bool, error) {
	return s.store.MarkRead(ctx, id)
}

func (s *Service) MarkAllRead(ctx context.Context) error { return s.store.MarkAllRead(ctx) }

func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	return s.store.Delete(ctx, id)
}

func (s *Service) DeleteAll(ctx context.Context) error { return s.store.DeleteAll(ctx) }

// Clear removes one category, or everything when main is empty.
func (s *Service) Clear(ctx context.Context, main model.MainCategory) (int, error) {
	return s.store.Clear(ctx, main)
}

// Prune drops expired records.
func (s *Service) Prune(ctx context.Context) (int, error) {
	now := s.now()
	n, err := s.store.Prune(ctx, now)
	if n > 0 {
		s.log.Debug("expired notifications pruned", logx.Int("removed", n))
		s.publish(EventPruned, now, PrunedEvent{Removed: n})
	}
	return n, err
}

func (s *Service) UnreadCount(main model.MainCategory) int { return s.store.UnreadCount(main) }

func (s *Service) Filtered(main model.MainCategory, sub string) []model.Notification {
	return s.store.Filtered(main, sub)
}

func (s *Service) List() []model.Notification { return s.store.List() }

func (s *Service) Get(id string) (model.Notification, bool) { return s.store.Get(id) }

// Len is the physical size of the committed collection.
func (s *Service) Len() int { return s.store.Len() }

func (s *Service) QueueLen() int { return s.queue.Len() }

func (s *Service) SoundEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.soundEnabled
}

// SetSoundEnabled updates the preference and writes it through to storage.
func (s *Service) SetSoundEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.soundEnabled = enabled
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.backend.SaveSoundEnabled(ctx, enabled); err != nil {
		s.log.Warn("persisting sound preference failed", logx.Err(err))
		return fmt.Errorf("persist sound preference: %w", err)
	}
	return nil
}
