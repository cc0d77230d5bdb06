package retrieval

import (
	"context"
	"math"
	"sort"

	"github.com/travel-sense/server/internal/agent/model"
	logx "github.com/travel-sense/server/pkg/logger"
)

const DefaultDistanceDivisor = 1.5

// Retriever ranks registered tools against a query.
type Retriever struct {
	index   Index
	docs    map[string]string
	divisor float64
}

// NewRetriever builds a retriever over docs, a tool name to description map.
// Hits for names outside docs are dropped.
func NewRetriever(index Index, docs map[string]string, divisor float64) *Retriever {
	if divisor <= 0 {
		divisor = DefaultDistanceDivisor
	}
	return &Retriever{index: index, docs: docs, divisor: divisor}
}

// Retrieve returns at most k candidates ordered by descending score. Index
// failures are logged and yield no candidates.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) []model.Candidate {
	hits, err := r.index.Query(ctx, query, k)
	if err != nil {
		logx.Warn().Err(err).Msg("Tool retrieval failed")
		return []model.Candidate{}
	}

	out := make([]model.Candidate, 0, len(hits))
	for _, h := range hits {
		desc, ok := r.docs[h.ID]
		if !ok {
			continue
		}
		out = append(out, model.Candidate{
			Name:        h.ID,
			Description: desc,
			Score:       Score(h.Distance, r.divisor),
		})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Score > out[b].Score })
	if k >= 0 && len(out) > k {
		out = out[:k]
	}
	for _, c := range out {
		logx.Debug().Str("tool_name", c.Name).Float64("score", c.Score).Msg("Retrieved candidate")
	}
	return out
}

// Score maps a distance to [0, 1]; closer is higher.
func Score(distance, divisor float64) float64 {
	if divisor <= 0 {
		divisor = DefaultDistanceDivisor
	}
	return math.Max(0, math.Min(1, 1-distance/divisor))
}
