package domain

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DocumentID derives the stable document identity from (source, uri).
// Both state tracking and chunk identity build on this value, so it must
// never change shape between releases.
func DocumentID(source, uri string) string {
	sum := sha1.Sum([]byte(source + ":" + uri))
	return hex.EncodeToString(sum[:])
}

// ContentHash is the content identity used for cache freshness and change
// detection.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ChunkID is unique per (document, position). The doc component is hashed so
// the ID stays bounded and stable regardless of what a source used as docID.
func ChunkID(docID string, index int) string {
	sum := sha256.Sum256([]byte(docID))
	return fmt.Sprintf("%s#%d", hex.EncodeToString(sum[:8]), index)
}
