package notifier

import (
	"context"
	"time"

	"pivotflow/internal/eventbus"
	"pivotflow/internal/model"
	logx "pivotflow/pkg/logx"
)

// ThrottleInterval is the minimum spacing between two commits.
const ThrottleInterval = time.Second

// sideEffectTimeout bounds a single sound or system notification call.
const sideEffectTimeout = 3 * time.Second

// Tick runs one due-check. If the head of the queue is due it is committed,
// stored and delivered, and Tick reports true. Idle ticks do nothing.
//
// A commit outlives the caller: cancelling ctx does not abort the write or
// the side effects of a record that has already left the queue.
func (s *Service) Tick(ctx context.Context, now time.Time) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = context.WithoutCancel(ctx)
	n, ok := s.commitDue(ctx, now)
	if !ok {
		return false
	}

	s.log.Debug("notification committed",
		logx.String("id", n.ID),
		logx.String("category", string(n.Category.Main)),
		logx.String("priority", string(n.Priority)),
	)
	s.publish(EventCommitted, now, CommittedEvent{Notification: clone(n)})
	s.deliver(ctx, n)
	return true
}

// commitDue holds dispatchMu across the gate check and the store insert.
func (s *Service) commitDue(ctx context.Context, now time.Time) (model.Notification, bool) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	req, ok := s.queue.DequeueIfDue(now, s.lastDispatch, ThrottleInterval)
	if !ok {
		return model.Notification{}, false
	}
	n := req.Commit(s.newID(), now)
	s.lastDispatch = now
	if err := s.store.Insert(ctx, n, now); err != nil {
		// The record stays committed in memory; the next mutation retries the write.
		s.log.Warn("notification committed without persisting", logx.String("id", n.ID), logx.Err(err))
	}
	return n, true
}

func (s *Service) deliver(ctx context.Context, n model.Notification) {
	if s.sound != nil && s.SoundEnabled() && n.Priority.Audible() {
		cctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		err := s.sound.Play(cctx)
		cancel()
		if err != nil {
			s.log.Debug("sound playback failed", logx.String("id", n.ID), logx.Err(err))
			s.publish(EventSoundFailed, time.Time{}, FailureEvent{ID: n.ID, Error: err.Error()})
		}
	}

	if s.system != nil && s.system.Permission() == PermissionGranted {
		cctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
		err := s.system.Notify(cctx, n.Title, n.Message, n.GroupID)
		cancel()
		if err != nil {
			s.log.Debug("system notification failed", logx.String("id", n.ID), logx.Err(err))
			s.publish(EventSystemFailed, time.Time{}, FailureEvent{ID: n.ID, Error: err.Error()})
		}
	}
}

func (s *Service) publish(typ string, at time.Time, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: data})
}

// Loop is the handle of a running periodic dispatcher.
type Loop struct {
	stop func(ctx context.Context) error
}

// Stop halts the ticker and waits for the dispatcher goroutine to exit.
func (l *Loop) Stop(ctx context.Context) error {
	if l == nil || l.stop == nil {
		return nil
	}
	return l.stop(ctx)
}

func (s *Service) runTicker(ctx context.Context) error {
	t := time.NewTicker(s.tickEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx, s.now())
		}
	}
}
