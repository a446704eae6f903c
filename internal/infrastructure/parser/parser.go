// Package parser turns raw source bytes into parsed documents: format
// detection, front matter extraction, HTML DOM building, PDF text extraction
// and the normalization rules applied before chunking.
package parser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

var errEmptyDocument = errors.New("document has no content")

// rawFormat is the detection result. PDF is internal only: extracted PDF text
// leaves the parser as FormatText.
type rawFormat string

const (
	rawMarkdown rawFormat = "markdown"
	rawHTML     rawFormat = "html"
	rawText     rawFormat = "text"
	rawPDF      rawFormat = "pdf"
)

type Parser struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

func (p *Parser) Parse(ctx context.Context, raw domain.RawDocument) (*domain.ParsedDocument, error) {
	if len(bytes.TrimSpace(raw.Bytes)) == 0 {
		return nil, domain.WrapError(domain.ErrContentQuality, "parse document", errEmptyDocument)
	}

	parsed := &domain.ParsedDocument{Meta: raw.Meta}

	switch detectFormat(raw) {
	case rawPDF:
		text, err := extractPDFText(raw.Bytes)
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse pdf", err)
		}
		parsed.Text = text
		parsed.Format = domain.FormatText

	case rawMarkdown:
		front, body, err := splitFrontMatter(string(raw.Bytes))
		if err != nil {
			// Malformed front matter degrades to plain markdown.
			p.logger.Warn("front matter unparseable, keeping raw body", "uri", raw.URI, "error", err)
		}
		parsed.Text = body
		parsed.Format = domain.FormatMarkdown
		parsed.FrontMatter = front

	case rawHTML:
		dom, err := html.Parse(bytes.NewReader(raw.Bytes))
		if err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse html", err)
		}
		parsed.DOM = dom
		parsed.Text = renderHTMLText(dom)
		parsed.Format = domain.FormatHTML

	default:
		parsed.Text = string(raw.Bytes)
		parsed.Format = domain.FormatText
	}

	if parsed.Meta.Title == "" {
		parsed.Meta.Title = extractTitle(parsed)
	}
	return parsed, nil
}

// detectFormat prefers the file extension, then the transport content type,
// then sniffs the body.
func detectFormat(raw domain.RawDocument) rawFormat {
	ext := strings.ToLower(raw.Meta.FileExt)
	if ext == "" {
		ext = strings.TrimPrefix(strings.ToLower(path.Ext(raw.URI)), ".")
	}
	ext = strings.TrimPrefix(ext, ".")

	switch ext {
	case "md", "mdx", "markdown":
		return rawMarkdown
	case "html", "htm", "xhtml":
		return rawHTML
	case "pdf":
		return rawPDF
	case "txt":
		return rawText
	}

	if strings.Contains(strings.ToLower(raw.Meta.ContentType), "html") {
		return rawHTML
	}
	return sniffFormat(string(raw.Bytes))
}

// sniffFormat inspects the body for reader-output markers, a front matter
// fence, an HTML document shell or Markdown heading lines.
func sniffFormat(body string) rawFormat {
	head := body
	if len(head) > 2048 {
		head = head[:2048]
	}
	trimmed := strings.TrimLeft(head, " \t\r\n")
	lower := strings.ToLower(trimmed)

	if strings.HasPrefix(trimmed, "Title:") && strings.Contains(head, "URL Source:") {
		return rawMarkdown
	}
	if strings.HasPrefix(trimmed, "---\n") || strings.HasPrefix(trimmed, "---\r\n") {
		return rawMarkdown
	}
	if strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html") {
		return rawHTML
	}
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") && strings.HasPrefix(strings.TrimLeft(line, "#"), " ") {
			return rawMarkdown
		}
	}
	if strings.Count(lower, "</") >= 3 {
		return rawHTML
	}
	return rawText
}

func extractPDFText(raw []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n\n")
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errEmptyDocument
	}
	return out, nil
}

func extractTitle(doc *domain.ParsedDocument) string {
	if doc.FrontMatter != nil {
		if title, ok := doc.FrontMatter["title"].(string); ok && title != "" {
			return title
		}
	}
	if doc.DOM != nil {
		if title := htmlTitle(doc.DOM); title != "" {
			return title
		}
	}
	for _, line := range strings.Split(doc.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		break
	}
	return ""
}
