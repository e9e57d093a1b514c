package store

import (
	"math"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// entryInfo is the part of an index entry retrieval needs in memory.
type entryInfo struct {
	ID         int64
	AnswerID   int64
	Language   string
	SearchText string
}

// VectorIndexConfig tunes the HNSW graph.
type VectorIndexConfig struct {
	Dimensions int
	M          int
	EfSearch   int
}

// VectorIndex is an in-memory cosine HNSW graph over index entry embeddings,
// keyed by entry id.
type VectorIndex struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[int64]
	config  VectorIndexConfig
	entries map[int64]entryInfo
	closed  bool
}

// NewVectorIndex creates an empty vector index.
func NewVectorIndex(cfg VectorIndexConfig) *VectorIndex {
	if cfg.Dimensions == 0 {
		cfg.Dimensions = Dimensions
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[int64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &VectorIndex{
		graph:   graph,
		config:  cfg,
		entries: make(map[int64]entryInfo),
	}
}

// Add inserts one entry. Ids already present are ignored since entries are
// immutable once written.
func (v *VectorIndex) Add(info entryInfo, embedding []float32) error {
	if len(embedding) != v.config.Dimensions {
		return DimensionError(v.config.Dimensions, len(embedding))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return errClosed
	}
	if _, ok := v.entries[info.ID]; ok {
		return nil
	}

	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	normalizeVectorInPlace(vec)

	v.graph.Add(hnsw.MakeNode(info.ID, vec))
	v.entries[info.ID] = info
	return nil
}

// Search returns up to limit entries nearest to query, nearest first.
func (v *VectorIndex) Search(query []float32, limit int) ([]VectorHit, error) {
	if len(query) != v.config.Dimensions {
		return nil, DimensionError(v.config.Dimensions, len(query))
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, errClosed
	}
	if v.graph.Len() == 0 || limit <= 0 {
		return []VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	normalizeVectorInPlace(q)

	nodes := v.graph.Search(q, limit)
	hits := make([]VectorHit, 0, len(nodes))
	for _, node := range nodes {
		info, ok := v.entries[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, VectorHit{
			EntryID:    info.ID,
			AnswerID:   info.AnswerID,
			Language:   info.Language,
			SearchText: info.SearchText,
			Similarity: cosineSimilarity(q, node.Value),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].EntryID < hits[j].EntryID
	})
	return hits, nil
}

// Len returns the number of indexed entries.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// Close releases the graph.
func (v *VectorIndex) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.graph = nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// cosineSimilarity of two unit vectors, i.e. 1 - cosine distance.
func cosineSimilarity(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}
