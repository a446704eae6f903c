package embedding

import (
	"hash/fnv"
	"math"
	"unicode"
)

const sparseBM25K1 = 1.2

// SparseEncoder builds lexical weight maps locally: tokens are hashed with
// FNV-1a into a fixed id space and term frequencies pass through BM25-style
// saturation. It is a stand-in for a real learned sparse head, good enough
// to keep keyword matching working when the service cannot provide one.
type SparseEncoder struct {
	k1 float64
}

func NewSparseEncoder() *SparseEncoder {
	return &SparseEncoder{k1: sparseBM25K1}
}

func (e *SparseEncoder) Encode(text string) map[uint32]float32 {
	tokens := tokenizeWords(text)
	if len(tokens) == 0 {
		return map[uint32]float32{}
	}

	termFreq := make(map[uint32]float64, 64)
	for _, token := range tokens {
		termFreq[hashToken(token)]++
	}

	out := make(map[uint32]float32, len(termFreq))
	for id, tf := range termFreq {
		weight := (tf * (e.k1 + 1.0)) / (tf + e.k1)
		if math.IsNaN(weight) || math.IsInf(weight, 0) || weight == 0 {
			continue
		}
		out[id] = float32(weight)
	}
	return out
}

func (e *SparseEncoder) EncodeBatch(texts []string) []map[uint32]float32 {
	out := make([]map[uint32]float32, len(texts))
	for i, text := range texts {
		out[i] = e.Encode(text)
	}
	return out
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

// tokenizeWords lowercases and splits on anything that is not a letter or
// digit. Unlike a pure ASCII tokenizer it keeps cyrillic and other scripts,
// which the documentation corpus is full of.
func tokenizeWords(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	runes := make([]rune, 0, 16)
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			runes = append(runes, unicode.ToLower(r))
			continue
		}
		if len(runes) > 0 {
			out = append(out, string(runes))
			runes = runes[:0]
		}
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}
