package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"clsrelay/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.seen.snapshot.json (periodic snapshot of the seen-ID map)
//   - <prefix>.seen.journal.jsonl (append-only journal)
//   - <dir>/digests/cls_<day>.md  (one markdown document per day)
//
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	seenSnapshotPath string
	seenJournalFile  *os.File
	seen             map[string]int64 // unix milli of the mark
	retention        time.Duration

	digestDir string

	seenWrites int
}

type seenRecord struct {
	ID string `json:"id"`
	At int64  `json:"at"`
}

var dayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	digestDir := filepath.Join(dir, "digests")
	if err := os.MkdirAll(digestDir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".seen.snapshot.json"
	journalPath := prefix + ".seen.journal.jsonl"

	// Load seen set from snapshot + journal.
	seen := map[string]int64{}
	_ = loadSeenSnapshot(snapPath, seen)
	_ = replaySeenJournal(journalPath, seen)
	pruneOldSeen(seen, cfg.retention())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:              log,
		seenSnapshotPath: snapPath,
		seenJournalFile:  jf,
		seen:             seen,
		retention:        cfg.retention(),
		digestDir:        digestDir,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenJournalFile == nil {
		return nil
	}
	err := s.seenJournalFile.Close()
	s.seenJournalFile = nil
	return err
}

func (s *fileStore) MarkSeen(ctx context.Context, id string, at time.Time) error {
	_ = ctx
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	ms := at.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seenJournalFile == nil {
		return errors.New("seen journal closed")
	}
	s.seen[id] = ms

	enc := json.NewEncoder(s.seenJournalFile)
	if err := enc.Encode(seenRecord{ID: id, At: ms}); err != nil {
		return err
	}
	s.seenWrites++
	if s.seenWrites%1000 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("seen compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) Seen(ctx context.Context, id string) (bool, error) {
	_ = ctx
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.seen[id]
	if !ok {
		return false, nil
	}
	if time.Since(time.UnixMilli(ms)) > s.retention {
		delete(s.seen, id)
		return false, nil
	}
	return true, nil
}

func (s *fileStore) SaveDigest(ctx context.Context, day, content string) (bool, error) {
	_ = ctx
	if !dayRe.MatchString(day) {
		return false, errors.New("digest day must be YYYY-MM-DD")
	}
	path := s.digestPath(day)

	// Unchanged content is not rewritten; the caller can treat a false
	// return as "no new material today".
	if cur, err := os.ReadFile(path); err == nil && string(cur) == content {
		return false, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) Digest(ctx context.Context, day string) (string, bool, error) {
	_ = ctx
	if !dayRe.MatchString(day) {
		return "", false, errors.New("digest day must be YYYY-MM-DD")
	}
	b, err := os.ReadFile(s.digestPath(day))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(b), true, nil
}

func (s *fileStore) digestPath(day string) string {
	return filepath.Join(s.digestDir, "cls_"+day+".md")
}

func (s *fileStore) compactLocked() error {
	pruneOldSeen(s.seen, s.retention)

	tmp := s.seenSnapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.seen); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.seenSnapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.seenJournalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.seenJournalFile.Seek(0, 2)
	return err
}

func loadSeenSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replaySeenJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r seenRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		out[r.ID] = r.At
	}
	return sc.Err()
}

func pruneOldSeen(m map[string]int64, retention time.Duration) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	for k, v := range m {
		if v < cutoff {
			delete(m, k)
		}
	}
}
