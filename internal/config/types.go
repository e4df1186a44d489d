package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the pivotflowd config file. JSON or YAML; unknown keys are
// rejected. Durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging     LoggingConfig     `json:"logging"`
	Storage     *StorageConfig    `json:"storage,omitempty"`
	Sound       SoundConfig       `json:"sound"`
	System      SystemConfig      `json:"system"`
	Telegram    *TelegramConfig   `json:"telegram,omitempty"`
	API         APIConfig         `json:"api"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	Secrets     SecretsConfig     `json:"secrets"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence backend. A nil section keeps state in
// memory only.
//
//	"storage": { "driver": "sqlite", "path": "./data/pivotflow.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | file | sqlite
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// SoundConfig controls the audio player. Disabling it here removes the
// player; the user-facing sound preference is stored with the notifications.
type SoundConfig struct {
	Enabled bool     `json:"enabled"`
	Command string   `json:"command,omitempty"` // default: paplay (linux), afplay (darwin)
	Args    []string `json:"args,omitempty"`
	File    string   `json:"file,omitempty"`
}

// SystemConfig picks where OS-level notifications go.
type SystemConfig struct {
	Driver string `json:"driver"` // none | desktop | telegram
	// Permission pre-seeds the permission state: default | granted | denied.
	// "default" asks once at startup.
	Permission string `json:"permission,omitempty"`
	AppName    string `json:"app_name,omitempty"`
	Icon       string `json:"icon,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // desktop display time
}

type TelegramConfig struct {
	Token         string `json:"token"` // may be resolved from the keyring
	ChatID        int64  `json:"chat_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

// APIConfig controls the HTTP consumer API.
//
// Security note: every route except /health requires an HS256 bearer token
// signed with JWTSecret.
type APIConfig struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr,omitempty"` // default: "127.0.0.1:8780"
	JWTSecret  string `json:"jwt_secret,omitempty"`
	Issuer     string `json:"issuer,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	Burst      int    `json:"burst,omitempty"`
	Pprof      bool   `json:"pprof,omitempty"`
}

type MaintenanceConfig struct {
	// PruneSchedule drives the expired-notification sweep. Default "@every 1m".
	PruneSchedule string `json:"prune_schedule,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

type SecretsConfig struct {
	// Keyring resolves empty telegram.token and api.jwt_secret from the OS keyring.
	Keyring bool   `json:"keyring"`
	Service string `json:"service,omitempty"`
	FileDir string `json:"file_dir,omitempty"`
}

// Validate checks values that do not depend on secrets or the environment.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "memory", "file", "sqlite", "sqlite3":
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.System.Driver)) {
	case "", "none", "desktop":
	case "telegram":
		if c.Telegram == nil || c.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("system.driver telegram requires telegram.chat_id"))
		}
	default:
		errs = append(errs, fmt.Errorf("system.driver: unknown driver %q", c.System.Driver))
	}
	switch c.System.Permission {
	case "", "default", "granted", "denied":
	default:
		errs = append(errs, fmt.Errorf("system.permission: unknown value %q", c.System.Permission))
	}
	if _, err := ParseDurationField("system.timeout", c.System.Timeout); err != nil {
		errs = append(errs, err)
	}
	if t := c.Telegram; t != nil {
		for path, raw := range map[string]string{
			"telegram.retry_base":      t.RetryBase,
			"telegram.retry_max_delay": t.RetryMaxDelay,
			"telegram.send_timeout":    t.SendTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if c.API.RatePerSec < 0 || c.API.Burst < 0 {
		errs = append(errs, errors.New("api.rate_per_sec and api.burst must be >= 0"))
	}
	return errors.Join(errs...)
}
