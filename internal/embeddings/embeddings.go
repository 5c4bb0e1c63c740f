// Package embeddings converts text to vectors for semantic profile
// search, via Ollama or an OpenAI-compatible endpoint.
package embeddings

import (
	"context"
	"math"
)

// Provider turns text into an embedding vector.
type Provider interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity computes cosine similarity between two vectors.
// Vectors of different length, or with zero norm, score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

// Scored is a vector index with its similarity to a query.
type Scored struct {
	Index int
	Score float32
}

// TopK returns the k vectors most similar to query, best first.
func TopK(query []float32, vectors [][]float32, k int) []Scored {
	scores := make([]Scored, len(vectors))
	for i, v := range vectors {
		scores[i] = Scored{Index: i, Score: CosineSimilarity(query, v)}
	}

	// Selection sort for the top k (fine for small k)
	for i := 0; i < k && i < len(scores); i++ {
		maxIdx := i
		for j := i + 1; j < len(scores); j++ {
			if scores[j].Score > scores[maxIdx].Score {
				maxIdx = j
			}
		}
		scores[i], scores[maxIdx] = scores[maxIdx], scores[i]
	}

	if k < len(scores) {
		scores = scores[:k]
	}
	return scores
}
