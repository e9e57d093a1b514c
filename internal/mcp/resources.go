package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/qamatch/internal/telemetry"
)

// QueryMetricsURI identifies the query_metrics resource.
const QueryMetricsURI = "qamatch://query_metrics"

// QueryMetricsOutput is the JSON structure for the query_metrics resource.
type QueryMetricsOutput struct {
	Summary             QueryMetricsSummary         `json:"summary"`
	ModeCounts          map[string]int64            `json:"mode_counts"`
	TopTerms            []telemetry.TermCount       `json:"top_terms"`
	Unanswered          []telemetry.UnansweredQuery `json:"unanswered"`
	LatencyDistribution map[string]int64            `json:"latency_distribution"`
}

// QueryMetricsSummary provides overview statistics.
type QueryMetricsSummary struct {
	TotalQueries  int64   `json:"total_queries"`
	UnansweredPct float64 `json:"unanswered_pct"`
	ExactRepeats  int64   `json:"exact_repeats"`
	Since         string  `json:"since"`
}

func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Query telemetry: modes, frequent terms and questions without a confident answer",
			MIMEType:    "application/json",
		},
		func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			text, err := s.queryMetricsJSON()
			if err != nil {
				return nil, err
			}
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: QueryMetricsURI, MIMEType: "application/json", Text: text},
				},
			}, nil
		},
	)
}

// queryMetricsJSON renders the current query metrics snapshot.
func (s *Server) queryMetricsJSON() (string, error) {
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()

	if metrics == nil {
		return "", NewInvalidParamsError("query metrics not available")
	}

	snap := metrics.Snapshot()
	out := QueryMetricsOutput{
		Summary: QueryMetricsSummary{
			TotalQueries:  snap.TotalQueries,
			UnansweredPct: snap.UnansweredPercentage(),
			ExactRepeats:  snap.ExactRepeatCount,
			Since:         snap.Since.UTC().Format("2006-01-02T15:04:05Z"),
		},
		ModeCounts:          snap.ModeCounts,
		TopTerms:            snap.TopTerms,
		Unanswered:          snap.Unanswered,
		LatencyDistribution: make(map[string]int64, len(snap.LatencyDistribution)),
	}
	for bucket, n := range snap.LatencyDistribution {
		out.LatencyDistribution[string(bucket)] = n
	}

	content, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", MapError(err)
	}
	return string(content), nil
}
