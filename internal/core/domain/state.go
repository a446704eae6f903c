package domain

import "time"

// DocumentState is one durable change-tracking record per (source, uri).
type DocumentState struct {
	DocID       string    `json:"doc_id"`
	ContentHash string    `json:"content_hash"`
	MTime       time.Time `json:"mtime"`
	Source      string    `json:"source"`
	URI         string    `json:"uri"`
	IndexedAt   time.Time `json:"indexed_at,omitempty"`
	LastChecked time.Time `json:"last_checked,omitempty"`
}

// PageCacheEntry is the index-side view of one cached page. Bodies live in a
// separate per-URL file; ContentHash is the sha256 of the raw HTML or text.
type PageCacheEntry struct {
	URL           string    `json:"url"`
	ContentHash   string    `json:"content_hash"`
	LastModified  string    `json:"last_modified,omitempty"`
	ETag          string    `json:"etag,omitempty"`
	Title         string    `json:"title,omitempty"`
	PageType      string    `json:"page_type,omitempty"`
	ContentLength int       `json:"content_length"`
	CachedAt      time.Time `json:"cached_at"`
}

// PageBody holds the heavy fields of a cached page.
type PageBody struct {
	URL  string `json:"url"`
	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
}

// PageMeta is the optional metadata recorded alongside a page on Save.
type PageMeta struct {
	ETag         string
	LastModified string
	Title        string
	PageType     string
}

// CacheStats summarizes cache occupancy.
type CacheStats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"total_bytes"`
}
