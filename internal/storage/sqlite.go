//go:build sqlite
// +build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"clsrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db        *sql.DB
	log       logx.Logger
	retention time.Duration

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, retention: cfg.retention(), pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) MarkSeen(ctx context.Context, id string, at time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO seen(id, at) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET at=excluded.at`,
		id, at.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneOld(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) Seen(ctx context.Context, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT at FROM seen WHERE id = ?`, id).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if time.Since(time.UnixMilli(ms)) > s.retention {
		return false, nil
	}
	return true, nil
}

func (s *sqliteStore) SaveDigest(ctx context.Context, day, content string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrDisabled
	}
	var cur string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM digests WHERE day = ?`, day).Scan(&cur)
	if err == nil && cur == content {
		return false, nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO digests(day, content, updated_at) VALUES(?,?,?)
		 ON CONFLICT(day) DO UPDATE SET content=excluded.content, updated_at=excluded.updated_at`,
		day, content, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) Digest(ctx context.Context, day string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, ErrDisabled
	}
	var content string
	err := s.db.QueryRowContext(ctx, `SELECT content FROM digests WHERE day = ?`, day).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

func (s *sqliteStore) pruneOld(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	cutoff := time.Now().Add(-s.retention).UnixMilli()
	_, err := s.db.ExecContext(ctx, `DELETE FROM seen WHERE at < ?`, cutoff)
	return err
}
