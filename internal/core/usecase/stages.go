package usecase

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
	"github.com/zakordonets/RAG-3-sub001/internal/core/ports"
)

// Quality gate thresholds. A normalized document below them carries no
// retrievable signal and is skipped rather than indexed.
const (
	minTextChars   = 40
	minLetterRatio = 0.25
)

type ParseStage struct {
	parser ports.Parser
}

func NewParseStage(parser ports.Parser) *ParseStage {
	return &ParseStage{parser: parser}
}

func (s *ParseStage) Name() string { return "parse" }

func (s *ParseStage) Process(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	parsed, err := s.parser.Parse(ctx, doc.Raw)
	if err != nil {
		return doc, err
	}
	out := *doc
	out.Parsed = parsed
	if out.DocID == "" {
		out.DocID = domain.DocumentID(doc.Raw.Meta.Source, doc.Raw.URI)
	}
	return &out, nil
}

type NormalizeStage struct {
	normalizer ports.Normalizer
}

func NewNormalizeStage(normalizer ports.Normalizer) *NormalizeStage {
	return &NormalizeStage{normalizer: normalizer}
}

func (s *NormalizeStage) Name() string { return "normalize" }

func (s *NormalizeStage) Process(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	normalized, err := s.normalizer.Normalize(ctx, doc.Parsed)
	if err != nil {
		return doc, err
	}
	out := *doc
	out.Parsed = normalized
	if reason, ok := qualityReject(normalized.Text); ok {
		out.Skipped = true
		out.SkipReason = reason
	}
	return &out, nil
}

// qualityReject flags text that is empty, too short or non-linguistic.
func qualityReject(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "empty text", true
	}
	if utf8.RuneCountInString(trimmed) < minTextChars {
		return "text too short", true
	}
	var letters, total int
	for _, r := range trimmed {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total > 0 && float64(letters)/float64(total) < minLetterRatio {
		return "non-linguistic content", true
	}
	return "", false
}

type ChunkStage struct {
	chunker ports.Chunker
}

func NewChunkStage(chunker ports.Chunker) *ChunkStage {
	return &ChunkStage{chunker: chunker}
}

func (s *ChunkStage) Name() string { return "chunk" }

func (s *ChunkStage) Process(ctx context.Context, doc *domain.Document) (*domain.Document, error) {
	chunks, err := s.chunker.Chunk(doc.Parsed, doc.DocID)
	if err != nil {
		return doc, err
	}
	out := *doc
	out.Chunks = chunks
	return &out, nil
}
