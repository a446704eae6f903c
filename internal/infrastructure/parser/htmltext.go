package parser

import (
	"strings"

	"golang.org/x/net/html"
)

var skippedElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"head":     {},
	"template": {},
	"iframe":   {},
	"svg":      {},
}

var blockElements = map[string]struct{}{
	"p":          {},
	"div":        {},
	"section":    {},
	"article":    {},
	"main":       {},
	"header":     {},
	"footer":     {},
	"nav":        {},
	"ul":         {},
	"ol":         {},
	"table":      {},
	"tr":         {},
	"blockquote": {},
	"pre":        {},
	"figure":     {},
}

// renderHTMLText flattens a DOM into text the chunker can segment: headings
// become Markdown heading lines so the structural chunking strategy sees the
// same shape for HTML and Markdown documents.
func renderHTMLText(root *html.Node) string {
	var b strings.Builder
	walkText(root, &b)
	return strings.TrimSpace(b.String())
}

func walkText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		return
	}

	if n.Type == html.ElementNode {
		name := n.Data
		if _, skip := skippedElements[name]; skip {
			return
		}
		if level := headingLevel(name); level > 0 {
			b.WriteString("\n\n")
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(innerText(n)))
			b.WriteString("\n\n")
			return
		}
		switch name {
		case "br":
			b.WriteString("\n")
			return
		case "li":
			b.WriteString("\n- ")
		}
		_, block := blockElements[name]
		if block {
			b.WriteString("\n\n")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkText(c, b)
		}
		if block {
			b.WriteString("\n\n")
		}
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, b)
	}
}

func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		if n.Type == html.ElementNode {
			if _, skip := skippedElements[n.Data]; skip {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func headingLevel(name string) int {
	if len(name) == 2 && name[0] == 'h' && name[1] >= '1' && name[1] <= '6' {
		return int(name[1] - '0')
	}
	return 0
}

func htmlTitle(root *html.Node) string {
	if title := findElement(root, "title"); title != nil {
		if text := innerText(title); text != "" {
			return text
		}
	}
	if h1 := findElement(root, "h1"); h1 != nil {
		return innerText(h1)
	}
	return ""
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}
