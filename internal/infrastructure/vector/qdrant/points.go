package qdrant

import (
	"math"
	"sort"

	"github.com/zakordonets/RAG-3-sub001/internal/core/domain"
)

// maxSparseIndices caps how many lexical terms a point carries. Beyond this
// the long tail of near-zero weights costs write bandwidth for no retrieval
// benefit.
const maxSparseIndices = 256

type sparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

type wirePoint struct {
	ID      string         `json:"id"`
	Vector  map[string]any `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func encodePoints(points []domain.Point, wantSparse bool) []wirePoint {
	out := make([]wirePoint, 0, len(points))
	for _, p := range points {
		vector := map[string]any{denseVectorName: p.Dense}
		if wantSparse && len(p.Sparse) > 0 {
			if sv := toSparseVector(p.Sparse); len(sv.Indices) > 0 {
				vector[sparseVectorName] = sv
			}
		}
		out = append(out, wirePoint{ID: p.ID, Vector: vector, Payload: p.Payload})
	}
	return out
}

// toSparseVector drops zero weights, keeps the strongest terms by absolute
// weight and truncates to maxSparseIndices.
func toSparseVector(weights map[uint32]float32) sparseVector {
	type pair struct {
		index  uint32
		weight float32
	}
	pairs := make([]pair, 0, len(weights))
	for idx, w := range weights {
		if w == 0 || math.IsNaN(float64(w)) || math.IsInf(float64(w), 0) {
			continue
		}
		pairs = append(pairs, pair{index: idx, weight: w})
	}
	if len(pairs) == 0 {
		return sparseVector{}
	}

	sort.Slice(pairs, func(i, j int) bool {
		ai, aj := math.Abs(float64(pairs[i].weight)), math.Abs(float64(pairs[j].weight))
		if ai != aj {
			return ai > aj
		}
		return pairs[i].index < pairs[j].index
	})
	if len(pairs) > maxSparseIndices {
		pairs = pairs[:maxSparseIndices]
	}

	sv := sparseVector{
		Indices: make([]uint32, 0, len(pairs)),
		Values:  make([]float32, 0, len(pairs)),
	}
	for _, p := range pairs {
		sv.Indices = append(sv.Indices, p.index)
		sv.Values = append(sv.Values, p.weight)
	}
	return sv
}
