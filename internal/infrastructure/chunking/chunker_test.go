package chunking

import (
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, nil))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog again. ")
	}
	return strings.TrimSpace(b.String())
}

func plainWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func mustChunk(t *testing.T, c *AdaptiveChunker, doc *domain.ParsedDocument, docID string) []domain.Chunk {
	t.Helper()
	chunks, err := c.Chunk(doc, docID)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	return chunks
}

func TestShortDocumentStaysWhole(t *testing.T) {
	c := NewAdaptiveChunker(Config{}, discardLogger())
	doc := &domain.ParsedDocument{Text: sentences(5), Meta: domain.DocumentMeta{Source: "docs"}} // ~50 words

	chunks := mustChunk(t, c, doc, "doc-1")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].Payload.Strategy != StrategyShort {
		t.Fatalf("Strategy = %q, want %q", chunks[0].Payload.Strategy, StrategyShort)
	}
	if chunks[0].Payload.TotalChunks != 1 || chunks[0].Payload.ChunkIndex != 0 {
		t.Fatalf("index/total = %d/%d, want 0/1", chunks[0].Payload.ChunkIndex, chunks[0].Payload.TotalChunks)
	}
	if chunks[0].Payload.ChunkID != domain.ChunkID("doc-1", 0) {
		t.Fatalf("ChunkID = %q mismatch", chunks[0].Payload.ChunkID)
	}
}

func TestLongDocumentSegmentsByHeadings(t *testing.T) {
	c := NewAdaptiveChunker(Config{}, discardLogger())
	text := strings.Join([]string{
		"# Overview", sentences(38), // ~380 words per section, ~1520 total
		"## Setup", sentences(38),
		"## Usage", sentences(38),
		"### Advanced", sentences(38),
	}, "\n\n")
	doc := &domain.ParsedDocument{Text: text}

	chunks := mustChunk(t, c, doc, "doc-long")
	if len(chunks) < 4 {
		t.Fatalf("chunks = %d, want >= 4", len(chunks))
	}

	paths := make(map[string]struct{})
	for _, ch := range chunks {
		if ch.Payload.Strategy != StrategyHeading {
			t.Fatalf("Strategy = %q, want %q", ch.Payload.Strategy, StrategyHeading)
		}
		if len(ch.Payload.HeadingPath) == 0 {
			t.Fatalf("chunk %d has empty heading path", ch.Payload.ChunkIndex)
		}
		paths[strings.Join(ch.Payload.HeadingPath, " > ")] = struct{}{}
	}
	if len(paths) < 4 {
		t.Fatalf("distinct heading paths = %d, want >= 4", len(paths))
	}

	want := "Overview > Usage > Advanced"
	if _, ok := paths[want]; !ok {
		t.Fatalf("missing nested path %q in %v", want, paths)
	}
}

func TestSlidingWindowTerminatesAndBoundsChunks(t *testing.T) {
	configs := []Config{
		{MaxTokens: 100, OverlapBase: 30, ShortDocTokens: 1, LongDocTokens: 100000, MaxChunks: 2000},
		{MaxTokens: 10, OverlapBase: 9, ShortDocTokens: 1, LongDocTokens: 100000, MaxChunks: 2000},
		{MaxTokens: 50, OverlapBase: 0, ShortDocTokens: 1, LongDocTokens: 100000, MaxChunks: 2000},
	}
	for _, cfg := range configs {
		c := NewAdaptiveChunker(cfg, discardLogger())
		doc := &domain.ParsedDocument{Text: plainWords(1000)}

		chunks := mustChunk(t, c, doc, "doc-window")
		if len(chunks) == 0 {
			t.Fatalf("cfg %+v: no chunks", cfg)
		}
		for _, ch := range chunks {
			if ch.Payload.TokenCount > cfg.MaxTokens {
				t.Fatalf("cfg %+v: chunk of %d words exceeds window %d", cfg, ch.Payload.TokenCount, cfg.MaxTokens)
			}
		}
		last := chunks[len(chunks)-1]
		if !strings.HasSuffix(last.Text, "w999") {
			t.Fatalf("cfg %+v: tail of input lost, last chunk ends %q", cfg, lastWords(last.Text))
		}
	}
}

func TestWindowSnapsToSentenceEnd(t *testing.T) {
	c := NewAdaptiveChunker(Config{MaxTokens: 10, OverlapBase: 2, ShortDocTokens: 1, LongDocTokens: 100000}, discardLogger())

	// Sentence boundary at word 8 of 20, past 70% of the first window.
	text := "w0 w1 w2 w3 w4 w5 w6 done. w8 w9 w10 w11 w12 w13 w14 w15 w16 w17 w18 w19"
	doc := &domain.ParsedDocument{Text: text}

	chunks := mustChunk(t, c, doc, "doc-snap")
	if !strings.HasSuffix(chunks[0].Text, "done.") {
		t.Fatalf("first window did not snap to sentence end: %q", chunks[0].Text)
	}
	if chunks[0].Payload.TokenCount != 8 {
		t.Fatalf("snapped window = %d words, want 8", chunks[0].Payload.TokenCount)
	}
}

func TestWindowProgressClamp(t *testing.T) {
	c := NewAdaptiveChunker(Config{MaxTokens: 10, OverlapBase: 8, ShortDocTokens: 1, LongDocTokens: 100000}, discardLogger())

	// The snap shrinks the first window to 8 words, equal to the overlap, so
	// the computed next start would not advance without the clamp.
	words := make([]string, 30)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	words[7] = "done."
	doc := &domain.ParsedDocument{Text: strings.Join(words, " ")}

	chunks := mustChunk(t, c, doc, "doc-clamp")
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want >= 2", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Text, "w1 ") {
		t.Fatalf("second window should start one word in, got %q", chunks[1].Text)
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(last.Text, "w29") {
		t.Fatal("tail of input lost under clamped progress")
	}
}

func TestMediumDocumentMergesShortParagraphs(t *testing.T) {
	c := NewAdaptiveChunker(Config{MinTokens: 20, ShortDocTokens: 10, LongDocTokens: 100000}, discardLogger())

	// Six 5-word paragraphs: merged into one 20-word segment plus a 10-word tail.
	para := "alpha beta gamma delta epsilon"
	doc := &domain.ParsedDocument{Text: strings.Repeat(para+"\n\n", 6)}

	chunks := mustChunk(t, c, doc, "doc-medium")
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].Payload.TokenCount != 20 {
		t.Fatalf("merged segment = %d words, want 20", chunks[0].Payload.TokenCount)
	}
	if chunks[0].Payload.Strategy != StrategyParagraph {
		t.Fatalf("Strategy = %q, want %q", chunks[0].Payload.Strategy, StrategyParagraph)
	}
}

func TestChunkCeiling(t *testing.T) {
	c := NewAdaptiveChunker(Config{MaxTokens: 10, OverlapBase: 5, ShortDocTokens: 1, LongDocTokens: 100000, MaxChunks: 5}, discardLogger())
	doc := &domain.ParsedDocument{Text: plainWords(500)}

	chunks := mustChunk(t, c, doc, "doc-ceiling")
	if len(chunks) != 5 {
		t.Fatalf("chunks = %d, want ceiling 5", len(chunks))
	}
	if chunks[4].Payload.TotalChunks != 5 {
		t.Fatalf("TotalChunks = %d, want 5", chunks[4].Payload.TotalChunks)
	}
}

func TestHeadingPathResetsAcrossSiblings(t *testing.T) {
	sections := splitByHeadings("# A\nbody a\n## B\nbody b\n## C\nbody c\n# D\nbody d")
	if len(sections) != 4 {
		t.Fatalf("sections = %d, want 4", len(sections))
	}
	wantPaths := [][]string{{"A"}, {"A", "B"}, {"A", "C"}, {"D"}}
	for i, sec := range sections {
		if strings.Join(sec.path, "/") != strings.Join(wantPaths[i], "/") {
			t.Fatalf("section %d path = %v, want %v", i, sec.path, wantPaths[i])
		}
	}
}

func lastWords(s string) string {
	words := strings.Fields(s)
	if len(words) > 5 {
		words = words[len(words)-5:]
	}
	return strings.Join(words, " ")
}
