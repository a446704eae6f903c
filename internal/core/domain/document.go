package domain

import (
	"time"

	"golang.org/x/net/html"
)

type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatText     Format = "text"
)

// DocumentMeta carries the bounded set of metadata fields a source may attach
// to a document. Anything source-specific beyond these goes into Extra.
type DocumentMeta struct {
	Source      string         `json:"source"`
	SiteURL     string         `json:"site_url,omitempty"`
	Title       string         `json:"title,omitempty"`
	Category    string         `json:"category,omitempty"`
	Platform    string         `json:"platform,omitempty"`
	Role        string         `json:"role,omitempty"`
	PageType    string         `json:"page_type,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	RelPath     string         `json:"rel_path,omitempty"`
	FileExt     string         `json:"file_ext,omitempty"`
	MTime       time.Time      `json:"mtime,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// RawDocument is the unparsed output of a source adapter. Immutable once
// produced; the pipeline run that received it owns it.
type RawDocument struct {
	URI          string       `json:"uri"`
	AbsolutePath string       `json:"absolute_path,omitempty"`
	FetchedAt    time.Time    `json:"fetched_at"`
	Bytes        []byte       `json:"-"`
	Meta         DocumentMeta `json:"meta"`
}

// ParsedDocument is derived from exactly one RawDocument. Stages never mutate
// a ParsedDocument in place; each stage returns a fresh value so a failed
// document can be retried from any point.
type ParsedDocument struct {
	Text         string
	Format       Format
	FrontMatter  map[string]any
	DOM          *html.Node
	CanonicalURL string
	Meta         DocumentMeta
}

// Document is the envelope moving through the pipeline stages.
type Document struct {
	Raw    RawDocument
	Parsed *ParsedDocument
	Chunks []Chunk

	DocID      string
	Skipped    bool
	SkipReason string
}
