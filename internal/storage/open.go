package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"clsrelay/pkg/logx"
)

// Store is the minimal persistence API used by the pipeline.
type Store interface {
	// MarkSeen records one telegraph ID; repeat marks refresh its timestamp.
	MarkSeen(ctx context.Context, id string, at time.Time) error
	// Seen reports whether the ID was marked within the retention window.
	Seen(ctx context.Context, id string) (bool, error)
	// SaveDigest writes the markdown document for one day (YYYY-MM-DD).
	// It returns false without writing when the stored content is identical.
	SaveDigest(ctx context.Context, day, content string) (bool, error)
	// Digest returns the stored document for a day, ok=false when absent.
	Digest(ctx context.Context, day string) (string, bool, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// FilterNew returns the subset of ids not yet seen, preserving order. A nil
// store treats everything as new.
func FilterNew(ctx context.Context, s Store, ids []string) ([]string, error) {
	if s == nil {
		return ids, nil
	}
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		seen, err := s.Seen(ctx, id)
		if err != nil {
			return nil, err
		}
		if !seen {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}
