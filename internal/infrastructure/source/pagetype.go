// Package source holds helpers shared by the concrete source adapters.
package source

import (
	"net/url"
	"strings"
)

// PageTypeForURL tags a page by its URL path so retrieval can filter by kind
// of content. Unrecognized paths default to "guide".
func PageTypeForURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "guide"
	}
	for _, segment := range strings.Split(strings.ToLower(parsed.Path), "/") {
		switch {
		case segment == "api" || strings.HasPrefix(segment, "api-") || segment == "apiref" || segment == "reference":
			return "api"
		case strings.Contains(segment, "changelog") || strings.Contains(segment, "release-notes") || segment == "releases":
			return "changelog"
		case strings.Contains(segment, "faq"):
			return "faq"
		}
	}
	return "guide"
}
