package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot + markdown files)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	Retention   time.Duration // how long seen IDs are kept; 0 means default
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DefaultRetention bounds the seen-ID set. The upstream roll only ever
// covers the last day or two, so a week is comfortably past it.
const DefaultRetention = 7 * 24 * time.Hour

func (c Config) retention() time.Duration {
	if c.Retention > 0 {
		return c.Retention
	}
	return DefaultRetention
}
