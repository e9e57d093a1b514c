// Package telemetry records retrieval telemetry: Prometheus collectors for
// operators and an in-memory view of recent queries the knowledge base
// could not answer.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent represents a single retrieval request.
type QueryEvent struct {
	Query       string
	Mode        string
	Language    string
	ResultCount int
	TopScore    float64
	Latency     time.Duration
	Timestamp   time.Time
}

// UnansweredQuery is a query that returned nothing or nothing confident.
type UnansweredQuery struct {
	Query    string    `json:"query"`
	Mode     string    `json:"mode"`
	Language string    `json:"lang,omitempty"`
	TopScore float64   `json:"top_score"`
	At       time.Time `json:"at"`
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int // Next write position
	size     int // Current number of items
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a new circular buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add adds an item to the buffer. If full, the oldest item is evicted.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity

	if b.size < b.capacity {
		b.size++
	}
}

// Items returns all items in the buffer in FIFO order (oldest first).
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return []T{}
	}

	result := make([]T, b.size)
	if b.size < b.capacity {
		copy(result, b.items[:b.size])
	} else {
		// Buffer full - oldest item is at head
		copy(result, b.items[b.head:])
		copy(result[b.capacity-b.head:], b.items[:b.head])
	}
	return result
}

// Size returns the current number of items in the buffer.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear removes all items from the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms extracts terms from a query string.
// Terms are lowercased and must be at least 3 runes long.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		if utf8.RuneCountInString(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount represents a term and its frequency count.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetricsSnapshot is an immutable snapshot of query metrics.
type QueryMetricsSnapshot struct {
	ModeCounts          map[string]int64        `json:"mode_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	Unanswered          []UnansweredQuery       `json:"unanswered"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	UnansweredCount     int64                   `json:"unanswered_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	Since               time.Time               `json:"since"`
}

// UnansweredPercentage returns the percentage of unanswered queries.
func (s *QueryMetricsSnapshot) UnansweredPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.UnansweredCount) / float64(s.TotalQueries) * 100
}

// QueryMetricsConfig configures the query metrics collector.
type QueryMetricsConfig struct {
	TopTermsCapacity      int // Max terms to track (default: 100)
	UnansweredCapacity    int // Max unanswered queries kept (default: 200)
	RecentQueriesCapacity int // Max query hashes for repeat detection (default: 500)

	// NoAnswerThreshold marks a query unanswered when its best score is
	// below it.
	NoAnswerThreshold float64
}

// DefaultQueryMetricsConfig returns sensible defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		UnansweredCapacity:    200,
		RecentQueriesCapacity: 500,
		NoAnswerThreshold:     0.38,
	}
}

// QueryMetrics aggregates recent query telemetry in memory.
// Thread-safe for concurrent access.
type QueryMetrics struct {
	mu sync.RWMutex

	modes            map[string]int64
	topTerms         *lru.Cache[string, int64]
	unanswered       *CircularBuffer[UnansweredQuery]
	latencies        map[LatencyBucket]int64
	totalQueries     int64
	unansweredCount  int64
	recentQueries    *lru.Cache[string, struct{}]
	exactRepeatCount int64
	startTime        time.Time
	config           QueryMetricsConfig
}

// NewQueryMetrics creates a collector with default configuration.
func NewQueryMetrics() *QueryMetrics {
	return NewQueryMetricsWithConfig(DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a collector with custom configuration.
func NewQueryMetricsWithConfig(cfg QueryMetricsConfig) *QueryMetrics {
	def := DefaultQueryMetricsConfig()
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = def.TopTermsCapacity
	}
	if cfg.UnansweredCapacity <= 0 {
		cfg.UnansweredCapacity = def.UnansweredCapacity
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = def.RecentQueriesCapacity
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	return &QueryMetrics{
		modes:         make(map[string]int64),
		topTerms:      topTerms,
		unanswered:    NewCircularBuffer[UnansweredQuery](cfg.UnansweredCapacity),
		latencies:     make(map[LatencyBucket]int64),
		recentQueries: recentQueries,
		startTime:     time.Now(),
		config:        cfg,
	}
}

// Record captures one retrieval request. Events without query text (eval
// calls by embedding only) still count toward totals and latency.
func (m *QueryMetrics) Record(event QueryEvent) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.modes[event.Mode]++
	m.totalQueries++
	m.latencies[LatencyToBucket(event.Latency)]++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
	}

	if event.Query != "" && (event.ResultCount == 0 || event.TopScore < m.config.NoAnswerThreshold) {
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		m.unanswered.Add(UnansweredQuery{
			Query:    event.Query,
			Mode:     event.Mode,
			Language: event.Language,
			TopScore: event.TopScore,
			At:       at,
		})
		m.unansweredCount++
	}

	if event.Query != "" {
		key := hashQuery(event.Query)
		if _, exists := m.recentQueries.Get(key); exists {
			m.exactRepeatCount++
		}
		m.recentQueries.Add(key, struct{}{})
	}
}

// hashQuery creates a normalized hash of the query for repetition detection.
func hashQuery(query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

// Unanswered returns recent unanswered queries, newest first, at most limit
// (all when limit <= 0).
func (m *QueryMetrics) Unanswered(limit int) []UnansweredQuery {
	items := m.unanswered.Items()
	out := make([]UnansweredQuery, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Snapshot returns current metrics for reporting.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	modes := make(map[string]int64, len(m.modes))
	for k, v := range m.modes {
		modes[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	return &QueryMetricsSnapshot{
		ModeCounts:          modes,
		TopTerms:            topTerms,
		Unanswered:          m.unanswered.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		UnansweredCount:     m.unansweredCount,
		ExactRepeatCount:    m.exactRepeatCount,
		Since:               m.startTime,
	}
}
