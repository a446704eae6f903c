package parser

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

var (
	reTrailingWS = regexp.MustCompile(`[ \t]+\n`)
	reBlankRuns  = regexp.MustCompile(`\n{3,}`)

	// Docusaurus-flavoured markdown: module imports, MDX component wrappers
	// and admonition fences are build-time markup, not content.
	reImportLine   = regexp.MustCompile(`(?m)^import\s+.+\s+from\s+['"][^'"]+['"];?\s*$`)
	reComponentTag = regexp.MustCompile(`(?m)^\s*</?(?:Tabs|TabItem|Details|CodeBlock)[^>]*>\s*$`)
	reAdmonition   = regexp.MustCompile(`(?m)^:::(?:[a-zA-Z]+)?(?:[ \t]+(.*))?$`)
	reSiteRef      = regexp.MustCompile(`\]\(@site/(?:docs/)?([^)#\s]+?)(?:\.mdx?|\.markdown)?((?:#[^)]*)?)\)`)

	quoteReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
		"‘", `'`, "’", `'`, "‚", `'`,
		" ", " ",
	)
)

// Normalizer cleans parsed text and resolves the canonical URL every chunk of
// the document will carry. Rules run in a fixed order: whitespace collapse,
// encoding repair, quote normalization, source markup stripping, reader
// envelope stripping, URL mapping.
type Normalizer struct {
	siteBase   string
	docsPrefix string
	logger     *slog.Logger
}

func NewNormalizer(siteBase, docsPrefix string, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		siteBase:   strings.TrimRight(siteBase, "/"),
		docsPrefix: docsPrefix,
		logger:     logger,
	}
}

func (n *Normalizer) Normalize(ctx context.Context, doc *domain.ParsedDocument) (*domain.ParsedDocument, error) {
	out := *doc

	text := collapseWhitespace(doc.Text)
	text = repairMojibake(text)
	text = quoteReplacer.Replace(text)

	if doc.Format == domain.FormatMarkdown {
		text = n.stripDocusaurusMarkup(text)
	}

	if title, sourceURL, body, ok := stripReaderEnvelope(text); ok {
		text = body
		if out.Meta.Title == "" {
			out.Meta.Title = title
		}
		if out.CanonicalURL == "" {
			out.CanonicalURL = sourceURL
		}
	}

	// Stripping can leave fresh blank-line runs behind.
	out.Text = collapseWhitespace(text)
	out.CanonicalURL = n.mapURL(&out)
	if out.Meta.ContentType == "" {
		out.Meta.ContentType = string(out.Format)
	}
	return &out, nil
}

func collapseWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = reTrailingWS.ReplaceAllString(text, "\n")
	text = reBlankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// repairMojibake replaces every undecodable byte with its latin-1
// interpretation. The rewrite strictly reduces the replacement-rune count and
// never fails; valid text passes through untouched.
func repairMojibake(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteRune(rune(s[i]))
		} else {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

func (n *Normalizer) stripDocusaurusMarkup(text string) string {
	text = reImportLine.ReplaceAllString(text, "")
	text = reComponentTag.ReplaceAllString(text, "")
	// ":::tip Remember" keeps "Remember"; bare ":::" fences vanish.
	text = reAdmonition.ReplaceAllString(text, "$1")
	if n.siteBase != "" {
		text = reSiteRef.ReplaceAllString(text, "]("+n.siteBase+n.docsPrefix+"/$1$2)")
	}
	return text
}

// stripReaderEnvelope recognizes the text-extraction proxy's output frame:
//
//	Title: <page title>
//	URL Source: <original url>
//	Markdown Content:
//	<body>
//
// and returns the body plus the frame's title and source URL.
func stripReaderEnvelope(text string) (title, sourceURL, body string, ok bool) {
	head := text
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !strings.Contains(head, "URL Source:") {
		return "", "", text, false
	}

	marker := strings.Index(text, "Markdown Content:")
	if marker < 0 {
		return "", "", text, false
	}

	for _, line := range strings.Split(text[:marker], "\n") {
		line = strings.TrimSpace(line)
		if v, found := strings.CutPrefix(line, "Title:"); found {
			title = strings.TrimSpace(v)
		}
		if v, found := strings.CutPrefix(line, "URL Source:"); found {
			sourceURL = strings.TrimSpace(v)
		}
	}

	body = text[marker+len("Markdown Content:"):]
	return title, sourceURL, strings.TrimLeft(body, "\n"), true
}

func (n *Normalizer) mapURL(doc *domain.ParsedDocument) string {
	if doc.CanonicalURL != "" {
		return doc.CanonicalURL
	}
	if doc.Meta.SiteURL != "" {
		return doc.Meta.SiteURL
	}
	if n.siteBase == "" {
		return ""
	}
	rel := doc.Meta.RelPath
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return n.siteBase + n.docsPrefix
	}
	return n.siteBase + n.docsPrefix + "/" + rel
}
