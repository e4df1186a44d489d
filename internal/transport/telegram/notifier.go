// Package telegram delivers system notifications to a Telegram chat.
//
// Notify never talks to Telegram directly: it enqueues a job for a single
// worker that applies a token bucket rate limit and retries with jittered
// exponential backoff. Messages sharing a tag are edited in place instead of
// being posted again.
package telegram

import (
	"context"
	"errors"
	"html"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"pivotflow/internal/notifier"
	rtsup "pivotflow/internal/runtime/supervisor"
	kit "pivotflow/internal/transport"
	logx "pivotflow/pkg/logx"
)

var (
	ErrQueueFull = errors.New("telegram queue full")
	ErrStopped   = errors.New("telegram notifier stopped")
)

type Config struct {
	Target        kit.ChatTarget
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// Permission pre-seeds the permission state; "default" checks the chat
	// when the notification service starts.
	Permission notifier.Permission
	// MaxTags caps the remembered group tags; 0 means MaxNotifications.
	MaxTags int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.Permission == "" {
		c.Permission = notifier.PermissionDefault
	}
	return c
}

type job struct {
	title   string
	message string
	tag     string
}

// Notifier implements notifier.SystemNotifier and notifier.PermissionRequester.
//
// It is safe for concurrent use.
type Notifier struct {
	log     logx.Logger
	sender  kit.Sender
	checker kit.ChatChecker

	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	perm      notifier.Permission
	queue     chan job
	accepting bool
	sup       *rtsup.Supervisor

	tags *notifier.TagCache[kit.MessageRef]
}

// NewNotifier builds a notifier around sender. checker may be nil, in which
// case RequestPermission grants without a round trip.
func NewNotifier(cfg Config, sender kit.Sender, checker kit.ChatChecker, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	return &Notifier{
		log:     log.With(logx.String("comp", "telegram")),
		sender:  sender,
		checker: checker,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		perm:    cfg.Permission,
		tags:    notifier.NewTagCache[kit.MessageRef](cfg.MaxTags),
	}
}

func (n *Notifier) Permission() notifier.Permission {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.perm
}

func (n *Notifier) RequestPermission(ctx context.Context) notifier.Permission {
	n.mu.Lock()
	target := n.cfg.Target
	n.mu.Unlock()

	var err error
	if n.checker != nil {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = n.checker.CheckChat(cctx, target)
		cancel()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.log.Warn("telegram chat unreachable", logx.Int64("chat_id", target.ChatID), logx.Err(err))
		n.perm = notifier.PermissionDenied
	} else {
		n.perm = notifier.PermissionGranted
	}
	return n.perm
}

// Start launches the send worker. It is idempotent.
func (n *Notifier) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	n.mu.Lock()
	if n.queue != nil {
		n.mu.Unlock()
		return
	}
	q := make(chan job, n.cfg.QueueSize)
	n.queue = q
	n.accepting = true
	n.sup = rtsup.New(ctx,
		rtsup.WithLogger(n.log),
		rtsup.WithCancelOnError(false),
	)
	sup := n.sup
	n.mu.Unlock()

	sup.GoRestart("telegram.worker", func(c context.Context) error {
		for {
			select {
			case <-c.Done():
				return c.Err()
			case j, ok := <-q:
				if !ok {
					return nil
				}
				n.sendWithRetry(c, j)
			}
		}
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))
}

// Stop stops intake and drains the queue until ctx expires.
func (n *Notifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	q := n.queue
	sup := n.sup
	if q == nil {
		n.mu.Unlock()
		return nil
	}
	n.accepting = false
	close(q)
	n.queue = nil
	n.sup = nil
	n.mu.Unlock()

	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			n.log.Warn("telegram queue not drained before shutdown", logx.Err(err))
			return nil
		}
		return err
	}
	return nil
}

// Notify queues a message. It fails fast when the queue is full.
func (n *Notifier) Notify(ctx context.Context, title, message, tag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.accepting || n.queue == nil {
		return ErrStopped
	}
	select {
	case n.queue <- job{title: title, message: message, tag: tag}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (n *Notifier) sendWithRetry(ctx context.Context, j job) {
	n.mu.Lock()
	cfg := n.cfg
	lim := n.limiter
	n.mu.Unlock()

	text := formatText(j.title, j.message)
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := n.deliver(callCtx, cfg.Target, j.tag, text, opt)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		n.log.Debug("telegram send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))
		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	n.log.Warn("telegram notification dropped", logx.String("tag", j.tag), logx.Err(lastErr))
}

// deliver edits the message previously sent under tag, or sends a new one.
func (n *Notifier) deliver(ctx context.Context, to kit.ChatTarget, tag, text string, opt *kit.SendOptions) error {
	if tag != "" {
		if ref, ok := n.tags.Get(tag); ok {
			err := n.sender.EditText(ctx, ref, text, opt)
			if err == nil {
				return nil
			}
			// The old message may be gone; post a fresh one.
			n.log.Debug("telegram edit failed, sending new message", logx.String("tag", tag), logx.Err(err))
		}
	}
	ref, err := n.sender.SendText(ctx, to, text, opt)
	if err != nil {
		return err
	}
	if tag != "" {
		n.tags.Put(tag, ref)
	}
	return nil
}

func formatText(title, message string) string {
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>")
	if message != "" {
		b.WriteString("\n")
		b.WriteString(html.EscapeString(message))
	}
	return b.String()
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1), capped, with
// 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
