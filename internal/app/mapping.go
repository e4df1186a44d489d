package app

import (
	"fmt"
	"strings"
	"time"

	"pivotflow/internal/api"
	"pivotflow/internal/config"
	"pivotflow/internal/credential"
	"pivotflow/internal/desktop"
	"pivotflow/internal/notifier"
	"pivotflow/internal/scheduler"
	"pivotflow/internal/sound"
	"pivotflow/internal/storage"
	kit "pivotflow/internal/transport"
	"pivotflow/internal/transport/telegram"
	logx "pivotflow/pkg/logx"
)

const defaultPruneSchedule = "@every 1m"

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSoundConfig(cfg *config.Config) sound.Config {
	return sound.Config{
		Command: cfg.Sound.Command,
		Args:    append([]string(nil), cfg.Sound.Args...),
		File:    cfg.Sound.File,
	}
}

func mapDesktopConfig(cfg *config.Config) (desktop.Config, error) {
	timeout, err := config.ParseDurationField("system.timeout", cfg.System.Timeout)
	if err != nil {
		return desktop.Config{}, err
	}
	return desktop.Config{
		AppName:    cfg.System.AppName,
		Icon:       cfg.System.Icon,
		Timeout:    timeout,
		Permission: notifier.ParsePermission(cfg.System.Permission),
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	if cfg.Telegram == nil {
		return telegram.Config{}, fmt.Errorf("telegram section is required when system.driver=telegram")
	}
	tc := cfg.Telegram
	base, err := config.ParseDurationOrDefault("telegram.retry_base", tc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return telegram.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("telegram.retry_max_delay", tc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("telegram.send_timeout", tc.SendTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	retryMax := tc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return telegram.Config{
		Target:        kit.ChatTarget{ChatID: tc.ChatID, ThreadID: tc.ThreadID},
		QueueSize:     tc.QueueSize,
		RatePerSec:    tc.RatePerSec,
		RetryMax:      retryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		SendTimeout:   sendTimeout,
		Permission:    notifier.ParsePermission(cfg.System.Permission),
	}, nil
}

func mapAPIConfig(cfg *config.Config) api.Config {
	return api.Config{
		Addr:       cfg.API.Addr,
		JWTSecret:  cfg.API.JWTSecret,
		Issuer:     cfg.API.Issuer,
		RatePerSec: cfg.API.RatePerSec,
		Burst:      cfg.API.Burst,
		Pprof:      cfg.API.Pprof,
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: cfg.Maintenance.Timezone}
}

func pruneSchedule(cfg *config.Config) string {
	if s := strings.TrimSpace(cfg.Maintenance.PruneSchedule); s != "" {
		return s
	}
	return defaultPruneSchedule
}

// resolveSecrets fills empty secrets from the environment and, when enabled,
// the OS keyring. cfg is modified in place.
func resolveSecrets(cfg *config.Config, log logx.Logger) error {
	var r *credential.Resolver
	if cfg.Secrets.Keyring {
		var err error
		r, err = credential.Open(credential.Config{Service: cfg.Secrets.Service, FileDir: cfg.Secrets.FileDir})
		if err != nil {
			return err
		}
	}
	if cfg.Telegram != nil {
		tok, err := r.Resolve(cfg.Telegram.Token, credential.TelegramToken)
		if err != nil {
			log.Warn("telegram token not resolved", logx.Err(err))
		} else {
			cfg.Telegram.Token = tok
		}
	}
	if cfg.API.Enabled {
		secret, err := r.Resolve(cfg.API.JWTSecret, credential.JWTSecret)
		if err != nil {
			log.Warn("api secret not resolved", logx.Err(err))
		} else {
			cfg.API.JWTSecret = secret
		}
	}
	return nil
}

// validate checks what config.Validate cannot: secrets are ignored, but
// schedules and time zones must parse.
func validate(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := scheduler.Parse(pruneSchedule(cfg)); err != nil {
		return fmt.Errorf("maintenance.prune_schedule: %w", err)
	}
	if tz := strings.TrimSpace(cfg.Maintenance.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("maintenance.timezone: invalid %q: %w", tz, err)
		}
	}
	if strings.EqualFold(strings.TrimSpace(cfg.System.Driver), "telegram") {
		if _, err := mapTelegramConfig(cfg); err != nil {
			return err
		}
	}
	return nil
}
