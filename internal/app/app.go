// Package app wires the notification service to its configured storage,
// delivery channels, maintenance jobs and HTTP API.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pivotflow/internal/api"
	"pivotflow/internal/config"
	"pivotflow/internal/desktop"
	"pivotflow/internal/eventbus"
	"pivotflow/internal/notifier"
	rtsup "pivotflow/internal/runtime/supervisor"
	"pivotflow/internal/scheduler"
	"pivotflow/internal/sound"
	"pivotflow/internal/storage"
	"pivotflow/internal/transport/telegram"
	logx "pivotflow/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	notif *notifier.Service
	loop  *notifier.Loop
	sched *scheduler.Service
	api   *api.Server

	player *sound.Player
	desk   *desktop.Notifier
	tg     *telegram.Notifier
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	if err := resolveSecrets(cfg, log); err != nil {
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   eventbus.New(),
		store: store,
	}

	opts := notifier.Options{Storage: store, Bus: a.bus, Log: log}
	if cfg.Sound.Enabled {
		p, err := sound.New(mapSoundConfig(cfg), log)
		if err != nil {
			// The daemon is still useful without audio.
			log.Warn("sound disabled", logx.Err(err))
		} else {
			a.player = p
			opts.Sound = p
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.System.Driver)) {
	case "desktop":
		dc, err := mapDesktopConfig(cfg)
		if err != nil {
			return nil, err
		}
		a.desk = desktop.New(dc, log)
		opts.System = a.desk
	case "telegram":
		tc, err := mapTelegramConfig(cfg)
		if err != nil {
			return nil, err
		}
		bot, err := telegram.NewBot(cfg.Telegram.Token, tc.SendTimeout)
		if err != nil {
			return nil, err
		}
		a.tg = telegram.NewNotifier(tc, bot, bot, log)
		opts.System = a.tg
	}

	a.notif = notifier.New(opts)

	a.sched = scheduler.New(mapSchedulerConfig(cfg), log)
	if err := a.sched.Add("notifications.prune", pruneSchedule(cfg), 10*time.Second, func(c context.Context) error {
		_, err := a.notif.Prune(c)
		return err
	}); err != nil {
		return nil, err
	}

	if cfg.API.Enabled {
		srv, err := api.New(mapAPIConfig(cfg), a.notif, a.bus, a.snapshot, log)
		if err != nil {
			return nil, err
		}
		a.api = srv
	}
	return a, nil
}

// Notifications is the consumer surface.
func (a *App) Notifications() *notifier.Service { return a.notif }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// snapshot merges the app and dispatcher goroutine stats for /health.
func (a *App) snapshot() rtsup.Snapshot {
	snap := a.sup.Snapshot()
	snap.Goroutines = append(snap.Goroutines, a.notif.Supervisor().Snapshot().Goroutines...)
	return snap
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg)
	})

	a.notif.Load(ctx)

	// Start the chat worker before the dispatcher so Notify never sees a
	// stopped queue.
	if a.tg != nil {
		a.tg.Start(a.sup.Context())
	}
	loop, err := a.notif.Start(a.sup.Context())
	if err != nil {
		return err
	}
	a.loop = loop

	a.sched.Start(a.sup.Context())

	if a.api != nil {
		if err := a.api.Start(a.sup.Context()); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig applies the live-reloadable sections. Everything else needs a
// restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.sched.Apply(mapSchedulerConfig(newCfg))
	if a.player != nil {
		if err := a.player.Apply(mapSoundConfig(newCfg)); err != nil {
			a.log.Warn("invalid sound config; keeping previous", logx.Err(err))
		}
	}

	var restart []string
	for _, s := range sections {
		switch s {
		case "storage", "system", "telegram", "api", "secrets":
			restart = append(restart, s)
		}
	}
	if len(restart) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect", logx.String("sections", strings.Join(restart, ",")))
	}
	if oldCfg != nil && pruneSchedule(oldCfg) != pruneSchedule(newCfg) {
		a.log.Warn("maintenance.prune_schedule changed; restart required")
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		}
	}

	step("api", 3*time.Second, func(c context.Context) error {
		if a.api != nil {
			return a.api.Stop(c)
		}
		return nil
	})
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("dispatcher", 2*time.Second, func(c context.Context) error { return a.loop.Stop(c) })
	step("telegram", 3*time.Second, func(c context.Context) error {
		if a.tg != nil {
			return a.tg.Stop(c)
		}
		return nil
	})
	step("desktop", time.Second, func(context.Context) error {
		if a.desk != nil {
			return a.desk.Close()
		}
		return nil
	})
	step("sound", time.Second, func(context.Context) error {
		if a.player != nil {
			return a.player.Close()
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}
