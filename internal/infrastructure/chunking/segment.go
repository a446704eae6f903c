package chunking

import (
	"regexp"
	"strings"
)

var reHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

type section struct {
	path []string
	text string
}

// splitByHeadings segments text on Markdown heading lines (HTML documents
// arrive with their headings already rendered in this form). Each section
// keeps the heading line as its first line and carries the full path of
// active headings down to its own level.
func splitByHeadings(text string) []section {
	lines := strings.Split(text, "\n")

	var sections []section
	var active [7]string
	var cur []string
	var curPath []string

	flush := func() {
		body := strings.TrimSpace(strings.Join(cur, "\n"))
		if body != "" {
			sections = append(sections, section{path: curPath, text: body})
		}
		cur = cur[:0]
	}

	for _, line := range lines {
		m := reHeading.FindStringSubmatch(line)
		if m == nil {
			cur = append(cur, line)
			continue
		}
		flush()

		level := len(m[1])
		title := m[2]
		active[level] = title
		for i := level + 1; i < len(active); i++ {
			active[i] = ""
		}

		path := make([]string, 0, level)
		for i := 1; i <= level; i++ {
			if active[i] != "" {
				path = append(path, active[i])
			}
		}
		curPath = path
		cur = append(cur, line)
	}
	flush()
	return sections
}

// segmentParagraphs splits on blank lines and merges runs of short paragraphs
// until a segment carries at least MinTokens words of context.
func (c *AdaptiveChunker) segmentParagraphs(text string) []string {
	paragraphs := strings.Split(text, "\n\n")

	var segments []string
	var cur strings.Builder
	curWords := 0

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
		curWords += countWords(p)

		if curWords >= c.cfg.MinTokens {
			segments = append(segments, cur.String())
			cur.Reset()
			curWords = 0
		}
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}
	return segments
}

// slidingWindow cuts text into windows of at most MaxTokens words advancing
// by MaxTokens-OverlapBase. Window ends snap backward to the nearest sentence
// end when one exists past 70% of the window, so cuts land between sentences
// without producing degenerate tiny chunks. Forward progress is guaranteed:
// a computed next start at or before the current one is clamped to start+1.
func (c *AdaptiveChunker) slidingWindow(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.cfg.MaxTokens {
		return []string{strings.TrimSpace(text)}
	}

	var out []string
	start := 0
	for start < len(words) {
		end := start + c.cfg.MaxTokens
		if end > len(words) {
			end = len(words)
		}
		if end < len(words) {
			if snapped := snapToSentenceEnd(words[start:end]); snapped > 0 {
				end = start + snapped
			}
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
		next := end - c.cfg.OverlapBase
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return out
}

// snapToSentenceEnd returns the word count to keep so the window ends on a
// sentence boundary, or 0 when no boundary exists past 70% of the window.
func snapToSentenceEnd(window []string) int {
	threshold := int(float64(len(window)) * 0.7)
	for i := len(window) - 1; i+1 > threshold; i-- {
		if isSentenceEnd(window[i]) {
			return i + 1
		}
	}
	return 0
}

func isSentenceEnd(word string) bool {
	trimmed := strings.TrimRight(word, "\"')]`")
	return strings.HasSuffix(trimmed, ".") ||
		strings.HasSuffix(trimmed, "!") ||
		strings.HasSuffix(trimmed, "?")
}
