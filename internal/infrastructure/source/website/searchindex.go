package website

import "strings"

// searchIndex mirrors the MkDocs search/search_index.json layout. Sites that
// publish one hand us title and plain text per page, so the whole per-page
// fetch and render step can be skipped.
type searchIndex struct {
	Docs []searchIndexDoc `json:"docs"`
}

type searchIndexDoc struct {
	Location string `json:"location"`
	Title    string `json:"title"`
	Text     string `json:"text"`
}

// pageEntries filters the index down to whole pages: section entries carry a
// "#fragment" location and duplicate their page's text.
func (si *searchIndex) pageEntries() []searchIndexDoc {
	out := make([]searchIndexDoc, 0, len(si.Docs))
	for _, doc := range si.Docs {
		if strings.Contains(doc.Location, "#") {
			continue
		}
		out = append(out, doc)
	}
	return out
}
