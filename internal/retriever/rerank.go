package retriever

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/vector"
)

// Blend weights for re-ranking. The vector score stays dominant; the lexical
// signal only nudges close candidates past each other.
const (
	vectorWeight  = 0.8
	lexicalWeight = 0.2
)

// rerank blends normalized lexical scores into the vector scores and
// re-sorts. Candidates the lexical index does not match keep their vector
// score weight only. The sort is stable so equal blended scores preserve the
// vector ranking. Lexical failures degrade to the vector-only ranking.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []vector.Result) []vector.Result {
	lexical, err := r.keyword.Search(ctx, query, len(candidates))
	if err != nil {
		r.logger.Warn("lexical re-rank failed, keeping vector ranking", zap.Error(err))
		return candidates
	}
	if len(lexical) == 0 {
		return candidates
	}

	maxScore := lexical[0].Score
	for _, l := range lexical {
		if l.Score > maxScore {
			maxScore = l.Score
		}
	}
	normalized := make(map[string]float64, len(lexical))
	for _, l := range lexical {
		if maxScore > 0 {
			normalized[l.ID] = l.Score / maxScore
		}
	}

	blended := make([]vector.Result, len(candidates))
	for i, c := range candidates {
		blended[i] = vector.Result{
			ID:    c.ID,
			Score: vectorWeight*c.Score + lexicalWeight*normalized[c.ID],
		}
	}
	sort.SliceStable(blended, func(i, j int) bool { return blended[i].Score > blended[j].Score })
	return blended
}
