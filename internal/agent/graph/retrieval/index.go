package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Hit is one index match. Lower distance is closer.
type Hit struct {
	ID       string
	Distance float64
}

// Index answers nearest-neighbour queries over free text.
type Index interface {
	Query(ctx context.Context, text string, k int) ([]Hit, error)
}

// MemoryIndex keeps unit-normalised document vectors in memory and ranks by
// squared L2 distance. Documents are embedded on first use; a failed build is
// retried on the next query.
type MemoryIndex struct {
	embedder Embedder
	docs     map[string]string

	mu    sync.Mutex
	ids   []string
	vecs  [][]float64
	built bool
}

func NewMemoryIndex(embedder Embedder, docs map[string]string) *MemoryIndex {
	return &MemoryIndex{embedder: embedder, docs: docs}
}

// Build embeds every document. It is a no-op once the index is built.
func (ix *MemoryIndex) Build(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.buildLocked(ctx)
}

func (ix *MemoryIndex) buildLocked(ctx context.Context) error {
	if ix.built {
		return nil
	}
	ids := make([]string, 0, len(ix.docs))
	for id := range ix.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	vecs := make([][]float64, 0, len(ids))
	for _, id := range ids {
		v, err := ix.embedder.Embed(ctx, ix.docs[id])
		if err != nil {
			return fmt.Errorf("embed %s: %w", id, err)
		}
		vecs = append(vecs, normalize(v))
	}
	ix.ids, ix.vecs, ix.built = ids, vecs, true
	return nil
}

func (ix *MemoryIndex) Query(ctx context.Context, text string, k int) ([]Hit, error) {
	ix.mu.Lock()
	err := ix.buildLocked(ctx)
	ids, vecs := ix.ids, ix.vecs
	ix.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if k <= 0 || len(ids) == 0 {
		return nil, nil
	}

	q, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	qn := normalize(q)

	hits := make([]Hit, 0, len(ids))
	for i, v := range vecs {
		if len(v) != len(qn) {
			return nil, fmt.Errorf("dimension mismatch: query %d, document %d", len(qn), len(v))
		}
		hits = append(hits, Hit{ID: ids[i], Distance: squaredL2(qn, v)})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Distance < hits[b].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func normalize(v []float32) []float64 {
	out := make([]float64, len(v))
	var sum float64
	for i, x := range v {
		out[i] = float64(x)
		sum += out[i] * out[i]
	}
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func squaredL2(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}
