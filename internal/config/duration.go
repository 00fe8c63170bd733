package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses one of the config's Go duration strings
// ("3s", "10m"). Blank means unset and parses to zero; negative values are
// rejected. path names the field in errors, e.g. "publish.retry_backoff".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for unset fields, used where a
// component carries a hard default (safety margin, timeouts).
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
