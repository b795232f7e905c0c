package domain

import "time"

// Document is a stored (text, metadata, vector) triple. Immutable after
// creation; only the document store creates them.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]string
	Vector   []float32
	StoredAt time.Time
}

// ScoredDocument pairs a document with a relevance score (higher = more relevant).
type ScoredDocument struct {
	Document
	Score float32
}

// Snippets extracts the document texts from a scored sequence, order preserved.
func Snippets(docs []ScoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.Text
	}
	return out
}
