// Package docusaurus reads a Docusaurus documentation tree from the local
// filesystem and emits one raw document per markdown (or PDF) file.
package docusaurus

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
	"github.com/zakordonets/RAG-3-sub001/internal/infrastructure/source"
)

type Config struct {
	Name       string
	DocsRoot   string
	BaseURL    string
	URLPrefix  string
	IncludePDF bool
}

type Source struct {
	cfg     Config
	dirMeta DirMetaFunc
	logger  *slog.Logger
}

func New(cfg Config, dirMeta DirMetaFunc, logger *slog.Logger) *Source {
	if dirMeta == nil {
		dirMeta = DefaultDirMeta
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{cfg: cfg, dirMeta: dirMeta, logger: logger}
}

func (s *Source) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return "docusaurus"
}

func (s *Source) Validate(ctx context.Context) error {
	info, err := os.Stat(s.cfg.DocsRoot)
	if err != nil {
		return domain.WrapError(domain.ErrConfiguration, "stat docs root", err)
	}
	if !info.IsDir() {
		return domain.WrapError(domain.ErrConfiguration, "check docs root",
			errors.New(s.cfg.DocsRoot+" is not a directory"))
	}
	return nil
}

// Documents walks the docs tree lazily. The document channel closes when the
// walk finishes or the context is cancelled; the error channel carries at
// most one fatal error. Unreadable files are logged and skipped.
func (s *Source) Documents(ctx context.Context) (<-chan domain.RawDocument, <-chan error) {
	docs := make(chan domain.RawDocument)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		err := filepath.WalkDir(s.cfg.DocsRoot, func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				s.logger.Warn("skipping unreadable entry", "path", path, "error", walkErr)
				if entry != nil && entry.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.IsDir() {
				if path != s.cfg.DocsRoot && skipDir(entry.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if !s.acceptFile(entry.Name()) {
				return nil
			}
			return s.emit(ctx, docs, path, entry)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errs <- domain.WrapError(domain.ErrTemporary, "walk docs root", err)
		}
	}()

	return docs, errs
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "node_modules"
}

func (s *Source) acceptFile(name string) bool {
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".mdx", ".markdown":
		return true
	case ".pdf":
		return s.cfg.IncludePDF
	default:
		return false
	}
}

func (s *Source) emit(ctx context.Context, docs chan<- domain.RawDocument, path string, entry fs.DirEntry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("skipping unreadable file", "path", path, "error", err)
		return nil
	}
	rel, err := filepath.Rel(s.cfg.DocsRoot, path)
	if err != nil {
		s.logger.Warn("skipping file outside docs root", "path", path, "error", err)
		return nil
	}
	rel = filepath.ToSlash(rel)

	var mtime time.Time
	if info, err := entry.Info(); err == nil {
		mtime = info.ModTime().UTC()
	}

	pageURL := siteURL(s.cfg.BaseURL, s.cfg.URLPrefix, rel)
	dir := s.dirMeta(topSegment(rel))
	meta := domain.DocumentMeta{
		Source:   s.Name(),
		SiteURL:  pageURL,
		Category: dir.Category,
		Platform: dir.Platform,
		Role:     dir.Role,
		PageType: source.PageTypeForURL(pageURL),
		RelPath:  rel,
		FileExt:  strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		MTime:    mtime,
	}

	doc := domain.RawDocument{
		URI:          rel,
		AbsolutePath: path,
		FetchedAt:    time.Now().UTC(),
		Bytes:        raw,
		Meta:         meta,
	}
	select {
	case docs <- doc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
