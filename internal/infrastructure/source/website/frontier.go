package website

import (
	"bytes"
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// frontier tracks which URLs belong to a crawl: in-domain pages only, each
// visited at most once, whole subtrees excludable by path prefix, total
// bounded by maxPages.
type frontier struct {
	host         string
	denyPrefixes []string
	maxPages     int
	seen         map[string]struct{}
}

func newFrontier(base *url.URL, denyPrefixes []string, maxPages int) *frontier {
	cleaned := make([]string, 0, len(denyPrefixes))
	for _, deny := range denyPrefixes {
		deny = strings.TrimSpace(deny)
		if deny == "" {
			continue
		}
		if strings.Contains(deny, "://") {
			if parsed, err := url.Parse(deny); err == nil {
				deny = parsed.Path
			}
		}
		if !strings.HasPrefix(deny, "/") {
			deny = "/" + deny
		}
		cleaned = append(cleaned, deny)
	}
	return &frontier{
		host:         base.Host,
		denyPrefixes: cleaned,
		maxPages:     maxPages,
		seen:         make(map[string]struct{}),
	}
}

// admit normalizes a candidate URL against base and reports whether it joins
// the frontier. Rejected candidates: non-http(s), foreign hosts, denied
// prefixes, static assets, duplicates, and anything past the page cap.
func (fr *frontier) admit(raw string, base *url.URL) (string, bool) {
	if fr.full() {
		return "", false
	}
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(parsed.Host, fr.host) {
		return "", false
	}
	parsed.Fragment = ""
	if isAsset(parsed.Path) {
		return "", false
	}
	for _, deny := range fr.denyPrefixes {
		if strings.HasPrefix(parsed.Path, deny) {
			return "", false
		}
	}

	normalized := parsed.String()
	if _, ok := fr.seen[normalized]; ok {
		return "", false
	}
	fr.seen[normalized] = struct{}{}
	return normalized, true
}

func (fr *frontier) full() bool {
	return fr.maxPages > 0 && len(fr.seen) >= fr.maxPages
}

func (fr *frontier) visited() map[string]struct{} {
	return fr.seen
}

var assetExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {}, ".svg": {},
	".ico": {}, ".css": {}, ".js": {}, ".woff": {}, ".woff2": {}, ".ttf": {},
	".zip": {}, ".gz": {}, ".tar": {}, ".mp4": {}, ".webm": {}, ".mp3": {},
}

func isAsset(urlPath string) bool {
	_, ok := assetExtensions[strings.ToLower(path.Ext(urlPath))]
	return ok
}

// extractLinks returns every anchor href in an HTML page, unresolved.
func extractLinks(body []byte) []string {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && strings.TrimSpace(attr.Val) != "" {
					links = append(links, attr.Val)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}
