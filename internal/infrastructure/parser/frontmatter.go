package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// splitFrontMatter separates a leading YAML front matter fence from the
// markdown body. The body is always returned; a malformed fence yields the
// document unchanged together with the parse error so the caller can log it.
func splitFrontMatter(text string) (map[string]any, string, error) {
	rest, ok := strings.CutPrefix(text, "---\n")
	if !ok {
		rest, ok = strings.CutPrefix(text, "---\r\n")
	}
	if !ok {
		return nil, text, nil
	}

	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, text, nil
	}
	fence := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(strings.TrimPrefix(body, "\r"), "\n")

	front := make(map[string]any)
	if err := yaml.Unmarshal([]byte(fence), &front); err != nil {
		return nil, text, fmt.Errorf("unmarshal front matter: %w", err)
	}
	return front, body, nil
}
