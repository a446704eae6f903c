// Package state tracks which documents have been indexed and with what
// content hash, so incremental runs can skip unchanged documents. Two
// backends implement the same port: a JSON file for single-host setups and
// Postgres for shared deployments.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

type FileStore struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]domain.DocumentState
	dirty   bool
}

// OpenFile loads the state file at path. A missing or corrupt file is a cold
// start: every document will look changed, which only costs extra work.
func OpenFile(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &FileStore{
		path:    path,
		logger:  logger,
		records: make(map[string]domain.DocumentState),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("state file unreadable, starting cold", "path", path, "error", err)
		}
		return s, nil
	}
	if err := json.Unmarshal(raw, &s.records); err != nil {
		logger.Warn("state file corrupt, starting cold", "path", path, "error", err)
		s.records = make(map[string]domain.DocumentState)
	}
	return s, nil
}

// IsChanged reports whether the document differs from the last indexed
// version: no prior record, a different content hash, or a different
// modification time all count as changed. A record hit also refreshes
// last_checked so CleanupOlderThan can age out documents that disappeared
// upstream.
func (s *FileStore) IsChanged(ctx context.Context, uri, source string, content []byte, mtime time.Time) bool {
	docID := domain.DocumentID(source, uri)

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[docID]
	if !ok {
		return true
	}

	rec.LastChecked = time.Now().UTC()
	s.records[docID] = rec
	s.dirty = true

	return rec.ContentHash != domain.ContentHash(content) || !rec.MTime.Equal(mtime)
}

func (s *FileStore) Update(ctx context.Context, uri, source string, content []byte, mtime, indexedAt time.Time) error {
	docID := domain.DocumentID(source, uri)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[docID] = domain.DocumentState{
		DocID:       docID,
		ContentHash: domain.ContentHash(content),
		MTime:       mtime,
		Source:      source,
		URI:         uri,
		IndexedAt:   indexedAt,
		LastChecked: time.Now().UTC(),
	}
	s.dirty = true
	return nil
}

// ChangedDocuments returns the ids recorded for source that were never marked
// indexed, typically left behind by an interrupted run.
func (s *FileStore) ChangedDocuments(ctx context.Context, source string) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make(map[string]struct{})
	for docID, rec := range s.records {
		if rec.Source == source && rec.IndexedAt.IsZero() {
			pending[docID] = struct{}{}
		}
	}
	return pending
}

func (s *FileStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for docID, rec := range s.records {
		if rec.LastChecked.Before(cutoff) {
			delete(s.records, docID)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed, nil
}

// Save writes the state atomically. It is a no-op when nothing changed since
// the last flush.
func (s *FileStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}
	raw, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename state: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *FileStore) Close(ctx context.Context) error {
	return s.Save(ctx)
}
