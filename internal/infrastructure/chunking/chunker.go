// Package chunking splits normalized documents into token-bounded chunks.
// The strategy adapts to document length: very short documents stay whole,
// medium ones are windowed over merged paragraphs, long ones are segmented
// by heading structure first so every chunk carries its section context.
package chunking

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

const (
	StrategyShort     = "short"
	StrategyParagraph = "paragraph"
	StrategyHeading   = "heading"
	StrategyFallback  = "fallback"
)

// Hard input bounds. Anything beyond them is truncated before segmentation so
// chunking terminates in bounded memory on pathological inputs.
const (
	maxInputBytes = 2_000_000
	maxInputWords = 400_000
)

type Config struct {
	MaxTokens      int // sliding window size in words
	MinTokens      int // paragraph merge threshold
	OverlapBase    int // window overlap in words
	ShortDocTokens int // below this the document stays a single chunk
	LongDocTokens  int // from this on heading segmentation kicks in
	MaxChunks      int // per-document ceiling, last-resort circuit breaker
}

type AdaptiveChunker struct {
	cfg    Config
	logger *slog.Logger
}

func NewAdaptiveChunker(cfg Config, logger *slog.Logger) *AdaptiveChunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.MinTokens <= 0 {
		cfg.MinTokens = 150
	}
	if cfg.OverlapBase < 0 {
		cfg.OverlapBase = 0
	}
	if cfg.OverlapBase >= cfg.MaxTokens {
		cfg.OverlapBase = cfg.MaxTokens / 4
	}
	if cfg.ShortDocTokens <= 0 {
		cfg.ShortDocTokens = 300
	}
	if cfg.LongDocTokens <= cfg.ShortDocTokens {
		cfg.LongDocTokens = 1200
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdaptiveChunker{cfg: cfg, logger: logger}
}

// piece is one chunk-to-be before payload assembly.
type piece struct {
	text     string
	path     []string
	strategy string
}

// Chunk splits the document. It never loses a document to an algorithm bug:
// an unexpected panic degrades to the whole text as one chunk.
func (c *AdaptiveChunker) Chunk(doc *domain.ParsedDocument, docID string) (chunks []domain.Chunk, err error) {
	text := c.boundInput(doc.Text, docID)

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("chunking failed, degrading to single chunk", "doc_id", docID, "panic", r)
			chunks = c.assemble(doc, docID, []piece{{text: text, strategy: StrategyFallback}})
			err = nil
		}
	}()

	words := countWords(text)
	var pieces []piece
	switch {
	case words < c.cfg.ShortDocTokens:
		pieces = []piece{{text: text, strategy: StrategyShort}}

	case words >= c.cfg.LongDocTokens:
		for _, sec := range splitByHeadings(text) {
			for _, window := range c.slidingWindow(sec.text) {
				pieces = append(pieces, piece{text: window, path: sec.path, strategy: StrategyHeading})
			}
		}

	default:
		for _, segment := range c.segmentParagraphs(text) {
			for _, window := range c.slidingWindow(segment) {
				pieces = append(pieces, piece{text: window, strategy: StrategyParagraph})
			}
		}
	}

	if len(pieces) == 0 {
		pieces = []piece{{text: text, strategy: StrategyShort}}
	}
	if len(pieces) > c.cfg.MaxChunks {
		c.logger.Warn("chunk ceiling hit, dropping tail", "doc_id", docID, "chunks", len(pieces), "ceiling", c.cfg.MaxChunks)
		pieces = pieces[:c.cfg.MaxChunks]
	}
	return c.assemble(doc, docID, pieces), nil
}

func (c *AdaptiveChunker) assemble(doc *domain.ParsedDocument, docID string, pieces []piece) []domain.Chunk {
	chunks := make([]domain.Chunk, 0, len(pieces))
	language := detectLanguage(doc.Text)

	for i, p := range pieces {
		chunks = append(chunks, domain.Chunk{
			Text: p.text,
			Payload: domain.ChunkPayload{
				ChunkID:      domain.ChunkID(docID, i),
				ChunkIndex:   i,
				TotalChunks:  len(pieces),
				DocID:        docID,
				HeadingPath:  p.path,
				TokenCount:   countWords(p.text),
				Strategy:     p.strategy,
				Source:       doc.Meta.Source,
				Title:        doc.Meta.Title,
				CanonicalURL: doc.CanonicalURL,
				Category:     doc.Meta.Category,
				Platform:     doc.Meta.Platform,
				Role:         doc.Meta.Role,
				PageType:     doc.Meta.PageType,
				ContentType:  doc.Meta.ContentType,
				Language:     language,
			},
		})
	}
	return chunks
}

func (c *AdaptiveChunker) boundInput(text, docID string) string {
	if len(text) > maxInputBytes {
		cut := maxInputBytes
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		c.logger.Warn("document exceeds size bound, truncating", "doc_id", docID, "bytes", len(text))
		text = text[:cut]
	}
	if words := strings.Fields(text); len(words) > maxInputWords {
		c.logger.Warn("document exceeds word bound, truncating", "doc_id", docID, "words", len(words))
		text = strings.Join(words[:maxInputWords], " ")
	}
	return text
}

func countWords(s string) int {
	return len(strings.Fields(s))
}

// detectLanguage is a coarse cyrillic-vs-latin ratio check, enough for
// payload filtering. Mixed documents lean toward the dominant script.
func detectLanguage(text string) string {
	sample := text
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	var cyr, lat int
	for _, r := range sample {
		switch {
		case unicode.In(r, unicode.Cyrillic):
			cyr++
		case r < 128 && unicode.IsLetter(r):
			lat++
		}
	}
	if cyr > lat {
		return "ru"
	}
	if lat > 0 {
		return "en"
	}
	return ""
}
