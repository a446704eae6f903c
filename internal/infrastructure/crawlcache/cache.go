// Package crawlcache is the content-addressed on-disk cache of fetched pages.
// An index file maps URL to lightweight metadata; each page body lives in its
// own file keyed by a stable hash of the URL, so the index stays small enough
// to rewrite atomically on every mutation.
package crawlcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

const (
	indexFile = "index.json"
	pagesDir  = "pages"
)

type Cache struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	index map[string]domain.PageCacheEntry
}

// Open loads the cache rooted at dir, creating the layout if needed. A
// missing or unreadable index means a cold start, never an error: the cache
// is an optimization and must not block a run.
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(dir, pagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	c := &Cache{
		dir:    dir,
		logger: logger,
		index:  make(map[string]domain.PageCacheEntry),
	}

	raw, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("cache index unreadable, starting cold", "path", dir, "error", err)
		}
		return c, nil
	}
	if err := json.Unmarshal(raw, &c.index); err != nil {
		logger.Warn("cache index corrupt, starting cold", "path", dir, "error", err)
		c.index = make(map[string]domain.PageCacheEntry)
	}
	return c, nil
}

func (c *Cache) Has(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[url]
	return ok
}

// Get returns the index entry for url. An indexed URL whose body file has
// gone missing is treated as a miss and evicted from the index.
func (c *Cache) Get(url string) (domain.PageCacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.index[url]
	c.mu.RUnlock()
	if !ok {
		return domain.PageCacheEntry{}, false
	}

	if _, err := os.Stat(c.bodyPath(url)); err != nil {
		c.logger.Warn("cached body missing, dropping index entry", "url", url)
		c.mu.Lock()
		delete(c.index, url)
		if perr := c.persistIndexLocked(); perr != nil {
			c.logger.Warn("persist index after eviction failed", "error", perr)
		}
		c.mu.Unlock()
		return domain.PageCacheEntry{}, false
	}
	return entry, true
}

func (c *Cache) GetBody(url string) (domain.PageBody, bool) {
	if _, ok := c.Get(url); !ok {
		return domain.PageBody{}, false
	}
	raw, err := os.ReadFile(c.bodyPath(url))
	if err != nil {
		return domain.PageBody{}, false
	}
	var body domain.PageBody
	if err := json.Unmarshal(raw, &body); err != nil {
		c.logger.Warn("cached body corrupt", "url", url, "error", err)
		return domain.PageBody{}, false
	}
	return body, true
}

// Save stores a fetched page, overwriting any previous entry for the URL.
// The body file is written before the index entry so a torn write can never
// leave the index pointing at a missing body.
func (c *Cache) Save(url, html, text string, meta domain.PageMeta) (domain.PageCacheEntry, error) {
	content := html
	if content == "" {
		content = text
	}

	body := domain.PageBody{URL: url, HTML: html, Text: text}
	rawBody, err := json.Marshal(body)
	if err != nil {
		return domain.PageCacheEntry{}, fmt.Errorf("marshal page body: %w", err)
	}

	entry := domain.PageCacheEntry{
		URL:           url,
		ContentHash:   domain.ContentHash([]byte(content)),
		LastModified:  meta.LastModified,
		ETag:          meta.ETag,
		Title:         meta.Title,
		PageType:      meta.PageType,
		ContentLength: len(content),
		CachedAt:      time.Now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := writeFileAtomic(c.bodyPath(url), rawBody); err != nil {
		return domain.PageCacheEntry{}, fmt.Errorf("write page body: %w", err)
	}
	c.index[url] = entry
	if err := c.persistIndexLocked(); err != nil {
		return domain.PageCacheEntry{}, err
	}
	return entry, nil
}

// IsFresh reports whether the cached content hash matches currentContent.
// Equal hash means the caller does not need to re-fetch or re-process.
func (c *Cache) IsFresh(url string, currentContent []byte) bool {
	c.mu.RLock()
	entry, ok := c.index[url]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return entry.ContentHash == domain.ContentHash(currentContent)
}

func (c *Cache) Remove(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.index[url]; !ok {
		return nil
	}
	if err := os.Remove(c.bodyPath(url)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove page body: %w", err)
	}
	delete(c.index, url)
	return c.persistIndexLocked()
}

// CleanupStale drops every cached URL not present in validURLs. Callers run
// it after a frontier refresh so pages deleted upstream leave the cache.
func (c *Cache) CleanupStale(validURLs map[string]struct{}) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for url := range c.index {
		if _, ok := validURLs[url]; ok {
			continue
		}
		if err := os.Remove(c.bodyPath(url)); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove stale body: %w", err)
		}
		delete(c.index, url)
		removed++
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, c.persistIndexLocked()
}

func (c *Cache) URLs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	urls := make([]string, 0, len(c.index))
	for url := range c.index {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

func (c *Cache) Stats() domain.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := domain.CacheStats{Count: len(c.index)}
	for _, entry := range c.index {
		stats.TotalBytes += int64(entry.ContentLength)
	}
	return stats
}

func (c *Cache) bodyPath(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, pagesDir, hex.EncodeToString(sum[:12])+".json")
}

func (c *Cache) persistIndexLocked() error {
	raw, err := json.MarshalIndent(c.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache index: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(c.dir, indexFile), raw); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
