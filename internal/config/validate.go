package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks cross-field consistency and all duration strings. It is
// run on initial load and as the hot-reload gate: a config that fails here
// is never committed.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Feishu.AppID) == "" {
		return errors.New("feishu.app_id is required")
	}
	if strings.TrimSpace(cfg.Feishu.AppSecret) == "" {
		return errors.New("feishu.app_secret is required")
	}

	switch strings.TrimSpace(cfg.Publish.Policy) {
	case "", "first_success", "all":
	default:
		return fmt.Errorf("publish.policy %q: want first_success or all", cfg.Publish.Policy)
	}
	for _, f := range []struct{ path, raw string }{
		{"publish.retry_backoff", cfg.Publish.RetryBackoff},
		{"publish.put_timeout", cfg.Publish.PutTimeout},
		{"publish.safety_margin", cfg.Publish.SafetyMargin},
		{"pipeline.request_timeout", cfg.Pipeline.RequestTimeout},
		{"pipeline.retry_delay", cfg.Pipeline.RetryDelay},
		{"notify.min_interval", cfg.Notify.MinInterval},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	enabled := 0
	for i, b := range cfg.Backends {
		kind := strings.ToLower(strings.TrimSpace(b.Kind))
		switch kind {
		case "edgekv", "serverless", "gitfile", "disabled", "":
		default:
			return fmt.Errorf("backends[%d].kind %q is unknown", i, b.Kind)
		}
		if !b.Enabled || kind == "disabled" || kind == "" {
			continue
		}
		enabled++
		if strings.TrimSpace(b.Endpoint) == "" {
			return fmt.Errorf("backends[%d] (%s): endpoint is required", i, kind)
		}
		if kind == "edgekv" && strings.TrimSpace(b.Credential) == "" {
			return fmt.Errorf("backends[%d] (edgekv): credential is required", i)
		}
	}
	if enabled == 0 && cfg.Pipeline.Enabled {
		return errors.New("pipeline enabled but no backend is enabled")
	}

	if cfg.Pipeline.Enabled && strings.TrimSpace(cfg.Pipeline.Schedule) == "" {
		return errors.New("pipeline.schedule is required when pipeline is enabled")
	}
	if tz := strings.TrimSpace(cfg.Pipeline.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("pipeline.timezone: %w", err)
		}
	}

	if s := cfg.Storage; s != nil {
		for _, f := range []struct{ path, raw string }{
			{"storage.retention", s.Retention},
			{"storage.busy_timeout", s.BusyTimeout},
		} {
			if _, err := ParseDurationField(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	return nil
}
