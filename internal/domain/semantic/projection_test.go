package semantic

import (
	"math"
	"testing"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/vocabulary"
)

func TestProjectionForDeterministicAcrossCalls(t *testing.T) {
	a := projectionFor(vocabulary.SlotAction)
	b := projectionFor(vocabulary.SlotAction)
	ar, ac := a.Dims()
	br, bc := b.Dims()
	if ar != br || ac != bc {
		t.Fatalf("dims differ: (%d,%d) vs (%d,%d)", ar, ac, br, bc)
	}
	for i := 0; i < ar; i++ {
		for j := 0; j < ac; j++ {
			if a.At(i, j) != b.At(i, j) {
				t.Fatalf("entry (%d,%d) differs across calls: %v vs %v", i, j, a.At(i, j), b.At(i, j))
			}
		}
	}
}

func TestProjectionForDistinctSlotsDistinctMatrices(t *testing.T) {
	a := projectionFor(vocabulary.SlotAction)
	r := projectionFor(vocabulary.SlotResource)
	rows, cols := a.Dims()
	same := true
	for i := 0; i < rows && same; i++ {
		for j := 0; j < cols; j++ {
			if a.At(i, j) != r.At(i, j) {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatalf("action and resource projection matrices are identical, want distinct (different seeds)")
	}
}

func TestProjectionForDims(t *testing.T) {
	m := projectionFor(vocabulary.SlotData)
	rows, cols := m.Dims()
	if rows != SlotDim || cols != EmbeddingDim {
		t.Errorf("dims = (%d,%d), want (%d,%d)", rows, cols, SlotDim, EmbeddingDim)
	}
}

func TestBuildSparseProjectionEntriesAreFromFixedSet(t *testing.T) {
	m := buildSparseProjection(4, 8, 7)
	s := 1 / (1 - sparsity)
	sqrtS := math.Sqrt(s)
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if v != 0 && math.Abs(math.Abs(v)-sqrtS) > 1e-9 {
				t.Fatalf("entry (%d,%d) = %v, want 0 or ±%v", i, j, v, sqrtS)
			}
		}
	}
}

func TestProjectAndNormalizeProducesUnitVector(t *testing.T) {
	var embedding [EmbeddingDim]float32
	for i := range embedding {
		embedding[i] = float32(i%7) - 3
	}
	v := projectAndNormalize(vocabulary.SlotAction, embedding)

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-4 {
		t.Errorf("norm = %v, want ~1.0", norm)
	}
}

func TestProjectAndNormalizeZeroEmbeddingStaysZero(t *testing.T) {
	var embedding [EmbeddingDim]float32
	v := projectAndNormalize(vocabulary.SlotAction, embedding)
	for i, x := range v {
		if x != 0 {
			t.Fatalf("element %d = %v, want 0 for all-zero input", i, x)
		}
	}
}

func TestCosineMaxPoolEmptyMatrixIsZero(t *testing.T) {
	var slot SlotVector
	slot[0] = 1
	if got := CosineMaxPool(slot, AnchorMatrix{}); got != 0 {
		t.Errorf("CosineMaxPool with Count=0 = %v, want 0", got)
	}
}

func TestCosineMaxPoolPicksBestMatchingAnchor(t *testing.T) {
	var a, b, query SlotVector
	a[0] = 1 // orthogonal to query
	b[1] = 1 // parallel to query
	query[1] = 1

	m := AnchorMatrix{Count: 2}
	m.Rows[0] = a
	m.Rows[1] = b

	got := CosineMaxPool(query, m)
	if math.Abs(got-1.0) > 1e-6 {
		t.Errorf("CosineMaxPool = %v, want 1.0 (best match is the parallel anchor)", got)
	}
}

func TestCosineMaxPoolClampsNegativeToZero(t *testing.T) {
	var a, query SlotVector
	a[0] = -1
	query[0] = 1

	m := AnchorMatrix{Count: 1}
	m.Rows[0] = a

	if got := CosineMaxPool(query, m); got != 0 {
		t.Errorf("CosineMaxPool = %v, want 0 (negative cosine clamped)", got)
	}
}

func TestCosineMaxPoolIgnoresRowsBeyondCount(t *testing.T) {
	var query, good SlotVector
	query[0] = 1
	good[0] = 1

	m := AnchorMatrix{Count: 1}
	m.Rows[0] = good
	// Row 1 is garbage but must be ignored since Count == 1.
	m.Rows[1][0] = -1

	if got := CosineMaxPool(query, m); math.Abs(got-1.0) > 1e-6 {
		t.Errorf("CosineMaxPool = %v, want 1.0, should ignore rows >= Count", got)
	}
}
