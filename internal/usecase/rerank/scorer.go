package rerank

import (
	"math"
	"strings"
	"unicode"
)

// Scorer computes a pairwise relevance score for (query, document text).
// Implementations must be pure and deterministic.
type Scorer interface {
	Score(query, docText string) float64
}

// LexicalScorer scores by cosine similarity over term-frequency vectors.
// A cheap, deterministic stand-in for a cross-encoder model: finer-grained
// than the store's vector metric because it looks at exact term overlap with
// the query.
type LexicalScorer struct{}

// Score returns the term-frequency cosine of query and docText in [0, 1].
func (LexicalScorer) Score(query, docText string) float64 {
	qt := termFreq(query)
	dt := termFreq(docText)
	if len(qt) == 0 || len(dt) == 0 {
		return 0
	}

	var dot, qnorm, dnorm float64
	for term, qf := range qt {
		dot += qf * dt[term]
		qnorm += qf * qf
	}
	for _, df := range dt {
		dnorm += df * df
	}
	if dot == 0 {
		return 0
	}
	return dot / (math.Sqrt(qnorm) * math.Sqrt(dnorm))
}

func termFreq(text string) map[string]float64 {
	freq := make(map[string]float64)
	for _, term := range tokenize(text) {
		freq[term]++
	}
	return freq
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
