// Package rerank reorders retrieved documents by a finer-grained relevance
// score than the store's similarity metric.
package rerank

import (
	"sort"

	"github.com/arcova/textrag/internal/domain"
)

// Reranker is a stateless scoring pass over retrieved documents.
type Reranker struct {
	scorer Scorer
}

// New creates a reranker. A nil scorer falls back to LexicalScorer.
func New(scorer Scorer) *Reranker {
	if scorer == nil {
		scorer = LexicalScorer{}
	}
	return &Reranker{scorer: scorer}
}

// Rerank scores every (query, document) pair and returns a new slice ordered
// by score descending. Ties keep the input (retrieval) order. The input is
// never mutated; empty input yields an empty result.
func (r *Reranker) Rerank(query string, docs []domain.ScoredDocument) []domain.ScoredDocument {
	out := make([]domain.ScoredDocument, len(docs))
	for i, d := range docs {
		out[i] = d
		out[i].Score = float32(r.scorer.Score(query, d.Text))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
