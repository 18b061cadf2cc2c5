package semantic

import (
	"math"
	"math/rand"
	"sync"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// sparsity is the fraction of zero entries in the projection matrices
// (spec.md §4.2): s = 1/(1-sparsity) = 3 exactly, so probPos/probZero land
// on 1/6 and 2/3 rather than a decimal approximation drifting across hosts.
const sparsity = 2.0 / 3.0

// slotSeeds fixes the deterministic random seed per slot so that the
// projection matrices — and therefore every encoding — are reproducible
// across runs and hosts (spec.md §4.2).
var slotSeeds = map[vocabulary.Slot]int64{
	vocabulary.SlotAction:   42,
	vocabulary.SlotResource: 43,
	vocabulary.SlotData:     44,
	vocabulary.SlotRisk:     45,
}

var (
	projectionOnce   sync.Once
	projectionMatrix map[vocabulary.Slot]*mat.Dense
)

// projectionFor returns the 32×384 sparse random projection matrix for slot,
// building all four lazily on first use and holding them for process
// lifetime (spec.md §5's "singleton" redesign flag, realised here as an
// explicit sync.Once-guarded package table rather than a bare global so the
// construction path stays testable).
func projectionFor(slot vocabulary.Slot) *mat.Dense {
	projectionOnce.Do(func() {
		projectionMatrix = make(map[vocabulary.Slot]*mat.Dense, len(slotSeeds))
		for s, seed := range slotSeeds {
			projectionMatrix[s] = buildSparseProjection(SlotDim, EmbeddingDim, seed)
		}
	})
	return projectionMatrix[slot]
}

// buildSparseProjection draws each entry from {+√s, 0, -√s} with
// probabilities (1/2s, 1-1/s, 1/2s), s = 1/(1-sparsity), deterministically
// seeded. Grounded on original_source's encoding.py
// create_sparse_projection_matrix.
func buildSparseProjection(outDim, inDim int, seed int64) *mat.Dense {
	s := 1 / (1 - sparsity)
	sqrtS := math.Sqrt(s)
	probPos := 1 / (2 * s)
	probZero := 1 - 1/s

	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, outDim*inDim)
	for i := range data {
		u := rng.Float64()
		switch {
		case u < probPos:
			data[i] = sqrtS
		case u < probPos+probZero:
			data[i] = 0
		default:
			data[i] = -sqrtS
		}
	}
	return mat.NewDense(outDim, inDim, data)
}

// projectAndNormalize applies the slot's projection matrix to a 384-d
// embedding and L2-normalises the result, leaving a zero vector zero
// (spec.md §4.2 step 4).
func projectAndNormalize(slot vocabulary.Slot, embedding [EmbeddingDim]float32) SlotVector {
	in := make([]float64, EmbeddingDim)
	for i, v := range embedding {
		in[i] = float64(v)
	}
	vec := mat.NewVecDense(EmbeddingDim, in)

	var out mat.VecDense
	out.MulVec(projectionFor(slot), vec)

	raw := make([]float64, SlotDim)
	for i := 0; i < SlotDim; i++ {
		raw[i] = out.AtVec(i)
	}

	norm := floats.Norm(raw, 2)
	var result SlotVector
	if norm == 0 || math.IsNaN(norm) {
		return result
	}
	for i, v := range raw {
		result[i] = float32(v / norm)
	}
	return result
}

// CosineMaxPool returns the maximum cosine similarity between slotVec and
// any of the occupied rows (0..count-1) of matrix, clamping NaN/degenerate
// results to 0 rather than propagating them (spec.md §4.4 "Failure").
func CosineMaxPool(slotVec SlotVector, matrix AnchorMatrix) float64 {
	if matrix.Count == 0 {
		return 0
	}
	a := make([]float64, SlotDim)
	for i, v := range slotVec {
		a[i] = float64(v)
	}
	best := 0.0
	for j := 0; j < matrix.Count; j++ {
		b := make([]float64, SlotDim)
		for i, v := range matrix.Rows[j] {
			b[i] = float64(v)
		}
		sim := floats.Dot(a, b)
		if math.IsNaN(sim) || math.IsInf(sim, 0) {
			sim = 0
		}
		if sim > best || j == 0 {
			best = sim
		}
	}
	// The wire contract (spec.md §6) requires slice similarities in [0,1];
	// a negative cosine means "opposite", which this system treats the same
	// as "no similarity" for threshold purposes.
	switch {
	case best < 0:
		return 0
	case best > 1:
		return 1
	default:
		return best
	}
}
