// Package embed turns text into fixed-width vectors for the index and for
// incoming queries.
package embed

import (
	"context"
	"math"
	"time"
)

// Common embedding constants
const (
	// DefaultDimensions is the width of the index embedding column.
	DefaultDimensions = 1536

	// DefaultModel is the OpenAI embedding model the index is built with.
	DefaultModel = "text-embedding-3-small"

	// DefaultBatchSize is the number of texts sent per embedding request.
	DefaultBatchSize = 200

	// MaxBatchSize caps a single request.
	MaxBatchSize = 2048

	// DefaultTimeout bounds one embedding request.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of retries after the first attempt
	// for transient upstream failures.
	DefaultMaxRetries = 5
)

// Embedder generates vector embeddings for text
type Embedder interface {
	// Embed generates embedding for a single text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, in input order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension
	Dimensions() int

	// ModelName returns the model identifier
	ModelName() string

	// Available checks if the embedder is ready
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v // Return as-is if zero vector
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
