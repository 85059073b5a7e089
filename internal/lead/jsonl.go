package lead

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"voice-lead-agent/pkg/logger"
)

// JSONLStore keeps leads as newline-delimited JSON, one record per line.
//
// New leads are appended; updates rewrite the file through a temp file + rename.
// All operations share one mutex, so a read-modify-rewrite for one lead can never
// drop a concurrent write for another.
type JSONLStore struct {
	path string
	log  *slog.Logger

	mu sync.Mutex
}

var _ Store = (*JSONLStore)(nil)

func NewJSONLStore(path string, log *slog.Logger) *JSONLStore {
	return &JSONLStore{path: path, log: logger.Component(log, "jsonl_store")}
}

func (s *JSONLStore) Path() string { return s.path }

func (s *JSONLStore) Append(ctx context.Context, l Lead) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("lead: encode %s: %w", l.ID, err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		s.log.Error("lead append failed", "lead_id", l.ID, "err", err)
		return fmt.Errorf("lead: open log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		s.log.Error("lead append failed", "lead_id", l.ID, "err", err)
		return fmt.Errorf("lead: append: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("lead: close log: %w", err)
	}
	s.log.Info("lead saved", "lead_id", l.ID)
	return nil
}

func (s *JSONLStore) ReadAll(ctx context.Context) ([]Lead, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAllLocked()
}

func (s *JSONLStore) FindByID(ctx context.Context, id string) (Lead, error) {
	leads, err := s.ReadAll(ctx)
	if err != nil {
		return Lead{}, err
	}
	for _, l := range leads {
		if l.ID == id {
			return l, nil
		}
	}
	return Lead{}, ErrNotFound
}

func (s *JSONLStore) UpdateByID(ctx context.Context, id string, p Patch) (Lead, error) {
	if err := ctx.Err(); err != nil {
		return Lead{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	leads, err := s.readAllLocked()
	if err != nil {
		return Lead{}, err
	}
	idx := indexOf(leads, id)
	if idx < 0 {
		return Lead{}, ErrNotFound
	}

	merged := leads[idx].Clone()
	if err := merged.Apply(p); err != nil {
		return Lead{}, err
	}
	leads[idx] = merged

	if err := s.rewriteLocked(leads); err != nil {
		s.log.Error("lead update failed", "lead_id", id, "err", err)
		return Lead{}, err
	}
	s.log.Info("lead updated", "lead_id", id)
	return merged.Clone(), nil
}

func (s *JSONLStore) Upsert(ctx context.Context, l Lead) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	leads, err := s.readAllLocked()
	if err != nil {
		return err
	}
	if idx := indexOf(leads, l.ID); idx >= 0 {
		leads[idx] = l
	} else {
		leads = append(leads, l)
	}

	if err := s.rewriteLocked(leads); err != nil {
		s.log.Error("lead upsert failed", "lead_id", l.ID, "err", err)
		return err
	}
	s.log.Debug("lead upserted", "lead_id", l.ID)
	return nil
}

func (s *JSONLStore) readAllLocked() ([]Lead, error) {
	content, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Lead{}, nil
		}
		return nil, fmt.Errorf("lead: read log: %w", err)
	}

	leads := make([]Lead, 0)
	for i, line := range bytes.Split(content, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var l Lead
		if err := json.Unmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("lead: decode line %d: %w", i+1, err)
		}
		leads = append(leads, l)
	}
	return leads, nil
}

func (s *JSONLStore) rewriteLocked(leads []Lead) error {
	var buf bytes.Buffer
	for _, l := range leads {
		line, err := json.Marshal(l)
		if err != nil {
			return fmt.Errorf("lead: encode %s: %w", l.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("lead: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("lead: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("lead: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("lead: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("lead: replace log: %w", err)
	}
	return nil
}

func indexOf(leads []Lead, id string) int {
	for i := range leads {
		if leads[i].ID == id {
			return i
		}
	}
	return -1
}
