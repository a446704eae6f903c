package docusaurus

import (
	"path"
	"regexp"
	"strings"
)

// DirMeta is the metadata a docs subtree contributes to every document
// beneath it.
type DirMeta struct {
	Category string
	Platform string
	Role     string
}

// DirMetaFunc resolves metadata for the top-level directory segment of a
// document's relative path. The segment arrives already cleaned of its
// ordering prefix ("01-admin" comes in as "admin").
type DirMetaFunc func(topSegment string) DirMeta

// DefaultDirMeta uses the top-level directory name as the category and
// leaves platform and role empty.
func DefaultDirMeta(topSegment string) DirMeta {
	return DirMeta{Category: topSegment}
}

// Docusaurus orders sidebar entries with numeric filename prefixes that
// never appear in the published URL.
var reOrderPrefix = regexp.MustCompile(`^\d+[-_]`)

func cleanSegment(segment string) string {
	return reOrderPrefix.ReplaceAllString(segment, "")
}

// siteURL maps a repository-relative path to the canonical published URL:
// extension dropped, ordering prefixes stripped from every segment, and
// index/README pages collapsed onto their directory.
func siteURL(baseURL, urlPrefix, relPath string) string {
	if baseURL == "" {
		return ""
	}
	segments := strings.Split(relPath, "/")
	last := segments[len(segments)-1]
	segments[len(segments)-1] = strings.TrimSuffix(last, path.Ext(last))

	cleaned := make([]string, 0, len(segments))
	for _, segment := range segments {
		segment = cleanSegment(segment)
		if segment != "" {
			cleaned = append(cleaned, segment)
		}
	}
	if n := len(cleaned); n > 0 {
		switch strings.ToLower(cleaned[n-1]) {
		case "index", "readme":
			cleaned = cleaned[:n-1]
		}
	}

	base := strings.TrimRight(baseURL, "/") + urlPrefix
	if len(cleaned) == 0 {
		return base
	}
	return base + "/" + strings.Join(cleaned, "/")
}

// topSegment returns the cleaned first directory of a relative path, or ""
// for files that sit directly in the docs root.
func topSegment(relPath string) string {
	first, _, found := strings.Cut(relPath, "/")
	if !found {
		return ""
	}
	return cleanSegment(first)
}
