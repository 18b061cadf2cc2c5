package semantic

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// EmbeddingDim is the fixed width of the text embedding model's output.
const EmbeddingDim = 384

// Embedder is the opaque, externally-supplied text embedding model
// (spec.md §1's "embedding models are treated as opaque" non-goal). Anchor
// and intent slot text is encoded through this seam; a production deployment
// wires a real sentence-embedding model behind it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([EmbeddingDim]float32, error)
}

// HashEmbedder is a deterministic, offline-friendly Embedder that derives the
// 384 floats from repeated xxhash-seeded streams of the input text. It is
// stable and content-addressed but carries no real semantic meaning: two
// unrelated strings are embedded independently of any linguistic similarity.
// It exists to exercise the encoder pipeline end to end in tests and in
// deployments with no wired embedding model; operators substitute a real
// model behind the same Embedder interface.
type HashEmbedder struct{}

// Embed implements Embedder.
func (HashEmbedder) Embed(_ context.Context, text string) ([EmbeddingDim]float32, error) {
	var out [EmbeddingDim]float32
	base := xxhash.Sum64String(text)
	var buf [8]byte
	for i := 0; i < EmbeddingDim; i++ {
		binary.LittleEndian.PutUint64(buf[:], base)
		stream := xxhash.Sum64(append(buf[:], byte(i), byte(i>>8)))
		// Map the hash into [-1, 1) so the resulting vector has roughly
		// zero mean, which keeps downstream L2-normalisation well-behaved.
		out[i] = float32(int64(stream)) / float32(math.MaxInt64)
		base = stream
	}
	return out, nil
}

// cachedEmbedder wraps an Embedder with a bounded LRU content-address cache,
// matching spec.md §4.2's "bounded LRU; key = the text" requirement. Grounded
// on the teacher's xxhash-keyed ResultCache shape
// (internal/service/policy_service.go), adapted here to golang-lru/v2's
// generic cache rather than a hand-rolled linked list, since the eviction
// policy itself is not load-bearing the way the enforcement result cache's
// explicit Get/Put semantics are.
type cachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[uint64, [EmbeddingDim]float32]
}

// NewCachedEmbedder wraps inner with an LRU cache of the given capacity.
func NewCachedEmbedder(inner Embedder, size int) (Embedder, error) {
	if size <= 0 {
		size = 10_000
	}
	c, err := lru.New[uint64, [EmbeddingDim]float32](size)
	if err != nil {
		return nil, err
	}
	return &cachedEmbedder{inner: inner, cache: c}, nil
}

func (c *cachedEmbedder) Embed(ctx context.Context, text string) ([EmbeddingDim]float32, error) {
	key := xxhash.Sum64String(text)
	if v, ok := c.cache.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Embed(ctx, text)
	if err != nil {
		return [EmbeddingDim]float32{}, err
	}
	c.cache.Add(key, v)
	return v, nil
}
