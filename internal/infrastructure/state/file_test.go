package state

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func openTestStore(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := OpenFile(path, discardLogger())
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	return s
}

func TestColdStartMarksEverythingChanged(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))

	if !s.IsChanged(context.Background(), "app/start.md", "docs", []byte("hello"), time.Time{}) {
		t.Fatal("expected unknown document to be changed")
	}
}

func TestChangeDetectionByContentHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))

	content := []byte("getting started")
	if err := s.Update(ctx, "app/start.md", "docs", content, time.Time{}, time.Now()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if s.IsChanged(ctx, "app/start.md", "docs", content, time.Time{}) {
		t.Fatal("expected identical content to be unchanged")
	}
	if !s.IsChanged(ctx, "app/start.md", "docs", []byte("getting started v2"), time.Time{}) {
		t.Fatal("expected modified content to be changed")
	}
	if !s.IsChanged(ctx, "app/start.md", "portal", content, time.Time{}) {
		t.Fatal("expected same uri under another source to be changed")
	}
}

func TestChangeDetectionHashOrMTime(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))

	mtime := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.Update(ctx, "app/start.md", "docs", []byte("original"), mtime, time.Now()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Either signal alone is enough: a stale timestamp cannot hide edited
	// bytes, and a touched file is re-indexed even when the bytes match.
	if !s.IsChanged(ctx, "app/start.md", "docs", []byte("different bytes"), mtime) {
		t.Fatal("expected differing content hash to report changed despite matching mtime")
	}
	if !s.IsChanged(ctx, "app/start.md", "docs", []byte("original"), mtime.Add(time.Minute)) {
		t.Fatal("expected differing mtime to report changed despite identical content")
	}
	if s.IsChanged(ctx, "app/start.md", "docs", []byte("original"), mtime) {
		t.Fatal("expected matching hash and mtime to report unchanged")
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	s := openTestStore(t, path)
	if err := s.Update(ctx, "app/start.md", "docs", []byte("hello"), time.Time{}, time.Now()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened := openTestStore(t, path)
	if reopened.IsChanged(ctx, "app/start.md", "docs", []byte("hello"), time.Time{}) {
		t.Fatal("expected persisted state to survive reopen")
	}
}

func TestCorruptStateFileStartsCold(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{broken"), 0o644); err != nil {
		t.Fatalf("write corrupt state: %v", err)
	}

	s := openTestStore(t, path)
	if !s.IsChanged(context.Background(), "app/start.md", "docs", []byte("hello"), time.Time{}) {
		t.Fatal("expected cold start after corrupt state file")
	}
}

func TestChangedDocumentsListsOnlyUnindexed(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))

	if err := s.Update(ctx, "app/pending.md", "docs", []byte("a"), time.Time{}, time.Time{}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, "app/done.md", "docs", []byte("b"), time.Time{}, time.Now()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, "other/pending.md", "portal", []byte("c"), time.Time{}, time.Time{}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	pending := s.ChangedDocuments(ctx, "docs")
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if _, ok := pending[domain.DocumentID("docs", "app/pending.md")]; !ok {
		t.Fatal("expected app/pending.md in pending set")
	}
}

func TestCleanupOlderThanRemovesStaleRecords(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "state.json"))

	if err := s.Update(ctx, "app/a.md", "docs", []byte("a"), time.Time{}, time.Now()); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := s.Update(ctx, "app/b.md", "docs", []byte("b"), time.Time{}, time.Now()); err != nil {
		t.Fatalf("Update: %v", err)
	}

	removed, err := s.CleanupOlderThan(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 0 {
		t.Fatalf("removed = %d, want 0 for fresh records", removed)
	}

	// Negative age places the cutoff in the future, so everything is stale.
	removed, err = s.CleanupOlderThan(ctx, -time.Second)
	if err != nil {
		t.Fatalf("CleanupOlderThan: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
}
