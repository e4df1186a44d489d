package config

import (
	"reflect"
	"sort"
	"strings"

	logx "pivotflow/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and returns log fields
// describing them. Secrets are reported only as "set" flags.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Sound, newCfg.Sound) {
		changed = append(changed, "sound")
		attrs = append(attrs,
			logx.Bool("sound.enabled", newCfg.Sound.Enabled),
			logx.String("sound.command", newCfg.Sound.Command),
		)
	}

	if oldCfg.System != newCfg.System {
		changed = append(changed, "system")
		attrs = append(attrs,
			logx.String("system.driver", newCfg.System.Driver),
			logx.String("system.permission", newCfg.System.Permission),
		)
	}

	oT, nT := derefTelegram(oldCfg.Telegram), derefTelegram(newCfg.Telegram)
	if oT != nT {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", nT.Token != ""),
			logx.Int64("telegram.chat_id", nT.ChatID),
			logx.Int("telegram.rate_per_sec", nT.RatePerSec),
		)
	}

	oA, nA := oldCfg.API, newCfg.API
	if oA != nA {
		changed = append(changed, "api")
		attrs = append(attrs,
			logx.Bool("api.enabled", nA.Enabled),
			logx.String("api.addr", nA.Addr),
			logx.Bool("api.jwt_secret_set", nA.JWTSecret != ""),
			logx.Bool("api.pprof", nA.Pprof),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.prune_schedule", newCfg.Maintenance.PruneSchedule),
			logx.String("maintenance.timezone", newCfg.Maintenance.Timezone),
		)
	}

	if oldCfg.Secrets != newCfg.Secrets {
		changed = append(changed, "secrets")
		attrs = append(attrs, logx.Bool("secrets.keyring", newCfg.Secrets.Keyring))
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}

func derefTelegram(t *TelegramConfig) TelegramConfig {
	if t == nil {
		return TelegramConfig{}
	}
	return *t
}
