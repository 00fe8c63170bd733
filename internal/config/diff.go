package config

import (
	"reflect"
	"sort"
	"strings"

	"clsrelay/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (app secret, backend credentials,
// webhook URLs) are reported presence-only, never by value.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Feishu.AppID != newCfg.Feishu.AppID ||
		oldCfg.Feishu.AppSecret != newCfg.Feishu.AppSecret ||
		oldCfg.Feishu.WebhookURL != newCfg.Feishu.WebhookURL ||
		oldCfg.Feishu.BaseURL != newCfg.Feishu.BaseURL {
		changed = append(changed, "feishu")
		attrs = append(attrs,
			logx.String("feishu.app_id", newCfg.Feishu.AppID),
			logx.Bool("feishu.webhook_set", strings.TrimSpace(newCfg.Feishu.WebhookURL) != ""),
		)
	}

	if !backendsEqual(oldCfg.Backends, newCfg.Backends) {
		changed = append(changed, "backends")
		enabled := 0
		for _, b := range newCfg.Backends {
			if b.Enabled {
				enabled++
			}
		}
		attrs = append(attrs,
			logx.Int("backends.count", len(newCfg.Backends)),
			logx.Int("backends.enabled", enabled),
		)
	}

	if oldCfg.Publish != newCfg.Publish {
		changed = append(changed, "publish")
		attrs = append(attrs,
			logx.String("publish.policy", newCfg.Publish.Policy),
			logx.Int("publish.retry_max", newCfg.Publish.RetryMax),
		)
	}

	if !reflect.DeepEqual(oldCfg.Pipeline, newCfg.Pipeline) {
		changed = append(changed, "pipeline")
		attrs = append(attrs,
			logx.Bool("pipeline.enabled", newCfg.Pipeline.Enabled),
			logx.String("pipeline.schedule", newCfg.Pipeline.Schedule),
			logx.Int("pipeline.keywords", len(newCfg.Pipeline.Keywords)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oldS, newS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oldS != newS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newS.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newS.Path) != ""),
		)
	}

	if oldCfg.RelayHTTP != newCfg.RelayHTTP {
		changed = append(changed, "relay_http")
		attrs = append(attrs,
			logx.Bool("relay_http.enabled", newCfg.RelayHTTP.Enabled),
			logx.String("relay_http.addr", newCfg.RelayHTTP.Addr),
		)
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs, logx.Bool("notify.enabled", newCfg.Notify.Enabled))
	}

	sort.Strings(changed)
	return changed, attrs
}

func backendsEqual(a, b []BackendConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
