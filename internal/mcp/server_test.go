package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/qamatch/internal/backlog"
	"github.com/Aman-CERP/qamatch/internal/embed"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/search"
	"github.com/Aman-CERP/qamatch/internal/telemetry"
)

// fakeMatcher records the last call and returns canned results.
type fakeMatcher struct {
	results []search.Result
	err     error

	called    string
	text      string
	embedding []float32
	count     int
}

func (f *fakeMatcher) VectorMatch(_ context.Context, embedding []float32, n int) ([]search.Result, error) {
	f.called, f.embedding, f.count = "vector", embedding, n
	return f.results, f.err
}

func (f *fakeMatcher) LexicalMatch(_ context.Context, text string, n int) ([]search.Result, error) {
	f.called, f.text, f.count = "lexical", text, n
	return f.results, f.err
}

func (f *fakeMatcher) HybridMatch(_ context.Context, text string, embedding []float32, n int) ([]search.Result, error) {
	f.called, f.text, f.embedding, f.count = "hybrid", text, embedding, n
	return f.results, f.err
}

type fakeBacklog struct {
	items   []backlog.Item
	err     error
	maxRows int
}

func (f *fakeBacklog) SelectBacklog(_ context.Context, maxRows int) ([]backlog.Item, error) {
	f.maxRows = maxRows
	return f.items, f.err
}

// failingEmbedder always fails with a plain error.
type failingEmbedder struct{ embed.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

func confidentResults() []search.Result {
	return []search.Result{
		{AnswerID: 7, SearchText: "Как оформить отпуск?", Language: "ru", Similarity: 0.9, Trigram: 0.5, Score: 0.72, Rank: 1},
		{AnswerID: 3, SearchText: "Отпуск без содержания", Language: "ru", Similarity: 0.6, Trigram: 0.2, Score: 0.41, Rank: 2},
	}
}

func newTestServer(t *testing.T, m *fakeMatcher, bl *fakeBacklog) *Server {
	t.Helper()
	srv, err := NewServer(m, bl, embed.NewStaticEmbedder(8))
	require.NoError(t, err)
	return srv
}

// ============================================================================
// Construction
// ============================================================================

func TestNewServer_RequiresDependencies(t *testing.T) {
	emb := embed.NewStaticEmbedder(8)

	_, err := NewServer(nil, &fakeBacklog{}, emb)
	assert.Error(t, err)

	_, err = NewServer(&fakeMatcher{}, nil, emb)
	assert.Error(t, err)

	_, err = NewServer(&fakeMatcher{}, &fakeBacklog{}, nil)
	assert.Error(t, err)
}

func TestServer_InfoAndTools(t *testing.T) {
	srv := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	name, _ := srv.Info()
	assert.Equal(t, "qamatch", name)

	var names []string
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{ToolHybridMatch, ToolVectorMatch, ToolLexicalMatch, ToolParaphraseBacklog}, names)
}

// ============================================================================
// Match tools
// ============================================================================

func TestCallTool_HybridMatch_EmbedsQueryServerSide(t *testing.T) {
	// Given: a matcher with a confident top answer
	m := &fakeMatcher{results: confidentResults()}
	srv := newTestServer(t, m, &fakeBacklog{})

	// When: calling hybrid_match with text only
	result, err := srv.CallTool(context.Background(), ToolHybridMatch, map[string]any{
		"query": "  как оформить отпуск  ",
		"limit": 5,
	})

	// Then: the query is trimmed, embedded and the top answer is reported
	require.NoError(t, err)
	out, ok := result.(*MatchOutput)
	require.True(t, ok, "expected *MatchOutput, got %T", result)
	assert.Equal(t, "hybrid", m.called)
	assert.Equal(t, "как оформить отпуск", m.text)
	assert.Len(t, m.embedding, 8)
	assert.Equal(t, 5, m.count)
	assert.Equal(t, "ru", out.Language)
	require.NotNil(t, out.Answer)
	assert.Equal(t, int64(7), out.Answer.AnswerID)
	assert.Empty(t, out.NotFound)
	assert.Len(t, out.Results, 2)
}

func TestCallTool_VectorAndLexicalRouting(t *testing.T) {
	tests := []struct {
		tool      string
		wantCall  string
		wantEmbed bool
	}{
		{ToolVectorMatch, "vector", true},
		{ToolLexicalMatch, "lexical", false},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			m := &fakeMatcher{results: confidentResults()}
			srv := newTestServer(t, m, &fakeBacklog{})

			_, err := srv.CallTool(context.Background(), tt.tool, map[string]any{"query": "leave"})

			require.NoError(t, err)
			assert.Equal(t, tt.wantCall, m.called)
			assert.Equal(t, tt.wantEmbed, m.embedding != nil)
		})
	}
}

func TestCallTool_WeakMatch_ReportsNotFoundInQueryLanguage(t *testing.T) {
	// Given: the best score is under the threshold
	m := &fakeMatcher{results: []search.Result{{AnswerID: 1, Score: 0.2, Rank: 1}}}
	srv := newTestServer(t, m, &fakeBacklog{})

	// When
	result, err := srv.CallTool(context.Background(), ToolHybridMatch, map[string]any{"query": "демалыс қалай алуға болады"})

	// Then
	require.NoError(t, err)
	out := result.(*MatchOutput)
	assert.Nil(t, out.Answer)
	assert.Equal(t, "kk", out.Language)
	assert.Equal(t, "Базада бұл туралы ақпарат жоқ.", out.NotFound)
	assert.Len(t, out.Results, 1)
}

func TestCallTool_Threshold_IsConfigurable(t *testing.T) {
	m := &fakeMatcher{results: []search.Result{{AnswerID: 1, Score: 0.2, Rank: 1}}}
	srv, err := NewServer(m, &fakeBacklog{}, embed.NewStaticEmbedder(8), WithThreshold(0.1))
	require.NoError(t, err)

	result, err := srv.CallTool(context.Background(), ToolLexicalMatch, map[string]any{"query": "leave"})

	require.NoError(t, err)
	assert.NotNil(t, result.(*MatchOutput).Answer)
}

func TestCallTool_LimitIsCapped(t *testing.T) {
	m := &fakeMatcher{}
	srv := newTestServer(t, m, &fakeBacklog{})

	_, err := srv.CallTool(context.Background(), ToolLexicalMatch, map[string]any{"query": "leave", "limit": 500})

	require.NoError(t, err)
	assert.Equal(t, MaxLimit, m.count)
}

func TestCallTool_AbsentLimitPassesZero(t *testing.T) {
	m := &fakeMatcher{}
	srv := newTestServer(t, m, &fakeBacklog{})

	_, err := srv.CallTool(context.Background(), ToolLexicalMatch, map[string]any{"query": "leave"})

	require.NoError(t, err)
	assert.Equal(t, 0, m.count)
}

func TestCallTool_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing query", nil},
		{"blank query", map[string]any{"query": "   "}},
		{"negative limit", map[string]any{"query": "x", "limit": -1}},
		{"wrong type", map[string]any{"query": 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMatcher{}
			srv := newTestServer(t, m, &fakeBacklog{})

			_, err := srv.CallTool(context.Background(), ToolHybridMatch, tt.args)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Empty(t, m.called, "matcher must not be called")
		})
	}
}

func TestCallTool_EmbeddingFailure_MapsToUpstream(t *testing.T) {
	m := &fakeMatcher{}
	srv, err := NewServer(m, &fakeBacklog{}, failingEmbedder{})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), ToolVectorMatch, map[string]any{"query": "leave"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeUpstream, mcpErr.Code)
	assert.Empty(t, m.called)
}

func TestCallTool_EngineFailure_IsMapped(t *testing.T) {
	m := &fakeMatcher{err: qaerrors.New(qaerrors.ErrCodeAllSourcesUnavailable, "all sources failed", nil)}
	srv := newTestServer(t, m, &fakeBacklog{})

	_, err := srv.CallTool(context.Background(), ToolHybridMatch, map[string]any{"query": "leave"})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeUnavailable, mcpErr.Code)
}

func TestCallTool_UnknownTool(t *testing.T) {
	srv := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	_, err := srv.CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

// ============================================================================
// Backlog tool
// ============================================================================

func TestCallTool_ParaphraseBacklog(t *testing.T) {
	bl := &fakeBacklog{items: []backlog.Item{
		{AnswerID: 4, Language: "ru", SearchText: "Как получить справку", BaseHash: "abc"},
	}}
	srv := newTestServer(t, &fakeMatcher{}, bl)

	result, err := srv.CallTool(context.Background(), ToolParaphraseBacklog, map[string]any{"max_rows": 10})

	require.NoError(t, err)
	out := result.(*BacklogOutput)
	assert.Equal(t, 10, bl.maxRows)
	assert.Equal(t, 1, out.Count)
	assert.Equal(t, "abc", out.Items[0].BaseHash)
}

func TestCallTool_ParaphraseBacklog_EmptyIsNotNil(t *testing.T) {
	srv := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	result, err := srv.CallTool(context.Background(), ToolParaphraseBacklog, nil)

	require.NoError(t, err)
	out := result.(*BacklogOutput)
	assert.NotNil(t, out.Items)
	assert.Zero(t, out.Count)
}

func TestCallTool_ParaphraseBacklog_NegativeRows(t *testing.T) {
	bl := &fakeBacklog{}
	srv := newTestServer(t, &fakeMatcher{}, bl)

	_, err := srv.CallTool(context.Background(), ToolParaphraseBacklog, map[string]any{"max_rows": -3})

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
}

// ============================================================================
// Query metrics resource
// ============================================================================

func TestQueryMetricsJSON(t *testing.T) {
	srv := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	_, err := srv.queryMetricsJSON()
	require.Error(t, err, "no metrics configured")

	qm := telemetry.NewQueryMetrics()
	qm.Record(telemetry.QueryEvent{Query: "справка 2-НДФЛ", Mode: "hybrid", Language: "ru"})
	srv.SetMetrics(qm)

	text, err := srv.queryMetricsJSON()
	require.NoError(t, err)
	assert.Contains(t, text, `"total_queries": 1`)
	assert.Contains(t, text, "справка 2-НДФЛ")
}

// ============================================================================
// Protocol round trip
// ============================================================================

func TestServer_InMemoryRoundTrip(t *testing.T) {
	// Given: a server connected to a client over in-memory transports
	ctx := context.Background()
	srv := newTestServer(t, &fakeMatcher{results: confidentResults()}, &fakeBacklog{})

	serverT, clientT := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverT, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer cs.Close()

	// When: listing tools and calling hybrid_match
	listed, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolHybridMatch,
		Arguments: map[string]any{"query": "как оформить отпуск"},
	})

	// Then: all tools are advertised and the answer is rendered as text
	require.NoError(t, err)
	assert.Len(t, listed.Tools, 4)
	assert.False(t, res.IsError)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "## Answer #7")
}
