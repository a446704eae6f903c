package website

import (
	"encoding/xml"
	"fmt"
	"strings"
)

type sitemapEntry struct {
	Loc string `xml:"loc"`
}

type urlSet struct {
	XMLName xml.Name       `xml:"urlset"`
	URLs    []sitemapEntry `xml:"url"`
}

type sitemapIndex struct {
	XMLName  xml.Name       `xml:"sitemapindex"`
	Sitemaps []sitemapEntry `xml:"sitemap"`
}

// parseSitemap handles both flat url sets and sitemap index files. At most
// one of the returned slices is non-empty.
func parseSitemap(body []byte) (pages []string, children []string, err error) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err == nil {
		for _, entry := range set.URLs {
			if loc := strings.TrimSpace(entry.Loc); loc != "" {
				pages = append(pages, loc)
			}
		}
		return pages, nil, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err != nil {
		return nil, nil, fmt.Errorf("parse sitemap: %w", err)
	}
	for _, entry := range index.Sitemaps {
		if loc := strings.TrimSpace(entry.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return nil, children, nil
}
