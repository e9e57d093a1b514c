package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/qamatch/internal/backlog"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/search"
	"github.com/Aman-CERP/qamatch/internal/telemetry"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

// fakeMatcher records the last call and returns canned results.
type fakeMatcher struct {
	results []search.Result
	err     error

	lastText  string
	lastEmb   []float32
	lastCount int
}

func (f *fakeMatcher) record(text string, emb []float32, n int) {
	f.lastText, f.lastEmb, f.lastCount = text, emb, n
}

func (f *fakeMatcher) VectorMatch(_ context.Context, emb []float32, n int) ([]search.Result, error) {
	f.record("", emb, n)
	return f.results, f.err
}

func (f *fakeMatcher) LexicalMatch(_ context.Context, text string, n int) ([]search.Result, error) {
	f.record(text, nil, n)
	return f.results, f.err
}

func (f *fakeMatcher) HybridMatch(_ context.Context, text string, emb []float32, n int) ([]search.Result, error) {
	f.record(text, emb, n)
	return f.results, f.err
}

func (f *fakeMatcher) EvalVector(_ context.Context, emb []float32, n int) ([]search.Scored, error) {
	f.record("", emb, n)
	return scored(f.results), f.err
}

func (f *fakeMatcher) EvalHybrid(_ context.Context, text string, emb []float32, n int) ([]search.Scored, error) {
	f.record(text, emb, n)
	return scored(f.results), f.err
}

func scored(rs []search.Result) []search.Scored {
	var out []search.Scored
	for _, r := range rs {
		out = append(out, search.Scored{AnswerID: r.AnswerID, Score: r.Score})
	}
	return out
}

type fakeBacklog struct {
	items   []backlog.Item
	maxRows int
	done    map[string]bool
	err     error
}

func (f *fakeBacklog) SelectBacklog(_ context.Context, maxRows int) ([]backlog.Item, error) {
	f.maxRows = maxRows
	return f.items, f.err
}

func (f *fakeBacklog) MarkDone(_ context.Context, hash string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.done == nil {
		f.done = map[string]bool{}
	}
	inserted := !f.done[hash]
	f.done[hash] = true
	return inserted, nil
}

// twoAnswers is the A1/A2 example: A1 fused 0.808, A2 fused 0.650.
var twoAnswers = []search.Result{
	{AnswerID: 1, SearchText: "модуль", Language: "ru", Similarity: 0.91, Trigram: 0.40, Score: 0.808, Rank: 1},
	{AnswerID: 2, SearchText: "moodle не работает", Language: "ru", Similarity: 0.60, Trigram: 0.85, Score: 0.650, Rank: 2},
}

func newTestServer(t *testing.T, m *fakeMatcher, b *fakeBacklog, opts ...Option) *Server {
	t.Helper()
	s, err := New(m, b, opts...)
	require.NoError(t, err)
	return s
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeRows(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var rows []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows), w.Body.String())
	return rows
}

func keys(m map[string]any) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	return out
}

// =============================================================================
// Match endpoints
// =============================================================================

func TestMatchEndpoints_Columns(t *testing.T) {
	tests := []struct {
		path string
		body string
		cols []string
	}{
		{"/rpc/match_qa_vector", `{"query_embedding":[0.1,0.2]}`, []string{"answer_id", "search_text", "similarity", "score"}},
		{"/rpc/match_qa_index", `{"query_embedding":[0.1,0.2]}`, []string{"answer_id", "search_text", "similarity", "score"}},
		{"/rpc/match_qa_trigram", `{"query_text":"модуль"}`, []string{"answer_id", "search_text", "trigram", "score"}},
		{"/rpc/match_qa_hybrid", `{"query_text":"модуль","query_embedding":[0.1,0.2]}`, []string{"answer_id", "search_text", "similarity", "trigram", "score"}},
		{"/rpc/eval_match_vector", `{"query_embedding":[0.1,0.2],"top_k":5}`, []string{"answer_id", "score"}},
		{"/rpc/eval_match_hybrid", `{"query_text":"модуль","query_embedding":[0.1,0.2],"top_k":5}`, []string{"answer_id", "score"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			// Given: an engine returning the two-answer example
			s := newTestServer(t, &fakeMatcher{results: twoAnswers}, &fakeBacklog{})

			// When
			w := post(t, s, tt.path, tt.body)

			// Then: rows carry exactly the operation's columns, in score order
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			rows := decodeRows(t, w)
			require.Len(t, rows, 2)
			assert.ElementsMatch(t, tt.cols, keys(rows[0]))
			assert.Equal(t, float64(1), rows[0]["answer_id"])
			assert.Equal(t, 0.808, rows[0]["score"])
		})
	}
}

func TestMatchHybrid_PassesInputs(t *testing.T) {
	m := &fakeMatcher{results: twoAnswers}
	s := newTestServer(t, m, &fakeBacklog{})

	w := post(t, s, "/rpc/match_qa_hybrid", `{"query_text":"модуль не открывается","query_embedding":[0.5,0.25],"match_count":7}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "модуль не открывается", m.lastText)
	assert.Equal(t, []float32{0.5, 0.25}, m.lastEmb)
	assert.Equal(t, 7, m.lastCount)

	rows := decodeRows(t, w)
	assert.Equal(t, 0.91, rows[0]["similarity"])
	assert.Equal(t, 0.4, rows[0]["trigram"])
}

func TestMatch_AbsentCountUsesDefault(t *testing.T) {
	m := &fakeMatcher{}
	s := newTestServer(t, m, &fakeBacklog{})

	w := post(t, s, "/rpc/match_qa_trigram", `{"query_text":"gpa"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, m.lastCount, "zero asks the engine for its default")
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestMatch_ExplicitCountBelowOneRejected(t *testing.T) {
	for _, body := range []string{`{"query_text":"gpa","match_count":0}`, `{"query_text":"gpa","match_count":-2}`} {
		m := &fakeMatcher{}
		s := newTestServer(t, m, &fakeBacklog{})

		w := post(t, s, "/rpc/match_qa_trigram", body)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), qaerrors.ErrCodeInvalidMatchCount)
		assert.Empty(t, m.lastText, "engine must not be called")
	}
}

func TestEval_MissingTopKRejected(t *testing.T) {
	tests := []struct {
		path string
		body string
	}{
		{"/rpc/eval_match_vector", `{"query_embedding":[0.1,0.2]}`},
		{"/rpc/eval_match_hybrid", `{"query_text":"gpa","query_embedding":[0.1,0.2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			// Given: an eval request without top_k
			m := &fakeMatcher{results: twoAnswers}
			s := newTestServer(t, m, &fakeBacklog{})

			// When
			w := post(t, s, tt.path, tt.body)

			// Then: the missing field is named and the engine is not called
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "top_k is required")
			assert.Contains(t, w.Body.String(), qaerrors.ErrCodeInvalidMatchCount)
			assert.Nil(t, m.lastEmb)
		})
	}
}

func TestEval_TopKBelowOneRejected(t *testing.T) {
	m := &fakeMatcher{}
	s := newTestServer(t, m, &fakeBacklog{})

	w := post(t, s, "/rpc/eval_match_vector", `{"query_embedding":[0.1,0.2],"top_k":0}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, w.Body.String(), "required")
	assert.Nil(t, m.lastEmb)
}

func TestMatch_MalformedJSON(t *testing.T) {
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	w := post(t, s, "/rpc/match_qa_vector", `{"query_embedding":"nope"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), qaerrors.ErrCodeInvalidInput)
}

// =============================================================================
// Error mapping
// =============================================================================

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"dimension mismatch", qaerrors.New(qaerrors.ErrCodeDimensionMismatch, "bad dims", nil), http.StatusBadRequest},
		{"empty query", qaerrors.New(qaerrors.ErrCodeQueryEmpty, "empty", nil), http.StatusBadRequest},
		{"all sources down", qaerrors.New(qaerrors.ErrCodeAllSourcesUnavailable, "down", nil), http.StatusServiceUnavailable},
		{"run in progress", qaerrors.New(qaerrors.ErrCodeRunInProgress, "busy", nil), http.StatusConflict},
		{"store failure", qaerrors.StoreError("disk", nil), http.StatusInternalServerError},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeMatcher{err: tt.err}, &fakeBacklog{})

			w := post(t, s, "/rpc/match_qa_hybrid", `{"query_text":"x","query_embedding":[1]}`)

			assert.Equal(t, tt.want, w.Code)
			var env errorEnvelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.NotEmpty(t, env.Error.Code)
		})
	}
}

// =============================================================================
// Backlog endpoints
// =============================================================================

func TestParaphraseCandidates(t *testing.T) {
	b := &fakeBacklog{items: []backlog.Item{
		{AnswerID: 3, Language: "ru", SearchText: "мудль", BaseHash: "h1"},
	}}
	s := newTestServer(t, &fakeMatcher{}, b)

	w := post(t, s, "/rpc/get_paraphrase_candidates", `{"max_rows":10}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, b.maxRows)
	assert.JSONEq(t, `[{"answer_id":3,"lang":"ru","search_text":"мудль","base_search_hash":"h1"}]`, w.Body.String())
}

func TestParaphraseCandidates_EmptyBodyUsesDefault(t *testing.T) {
	b := &fakeBacklog{}
	s := newTestServer(t, &fakeMatcher{}, b)

	w := post(t, s, "/rpc/get_paraphrase_candidates", ``)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, b.maxRows)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestParaphraseCandidates_ZeroMaxRowsRejected(t *testing.T) {
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	w := post(t, s, "/rpc/get_paraphrase_candidates", `{"max_rows":0}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMarkParaphraseDone_Idempotent(t *testing.T) {
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	first := post(t, s, "/rpc/mark_paraphrase_done", `{"base_search_hash":"h1"}`)
	second := post(t, s, "/rpc/mark_paraphrase_done", `{"base_search_hash":"h1"}`)

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, `{"base_search_hash":"h1","inserted":true}`, first.Body.String())
	assert.JSONEq(t, `{"base_search_hash":"h1","inserted":false}`, second.Body.String())
}

func TestMarkParaphraseDone_RequiresHash(t *testing.T) {
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	w := post(t, s, "/rpc/mark_paraphrase_done", `{}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Operational endpoints
// =============================================================================

func TestHealthz(t *testing.T) {
	healthy := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})
	w := httptest.NewRecorder()
	healthy.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	sick := newTestServer(t, &fakeMatcher{}, &fakeBacklog{},
		WithHealthCheck(func(context.Context) error { return errors.New("store closed") }))
	w = httptest.NewRecorder()
	sick.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "store closed")
}

func TestMetricsEndpoint(t *testing.T) {
	m := telemetry.NewMetrics()
	m.RecordSearch("hybrid", telemetry.StatusOK, 2, 10*time.Millisecond)
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{}, WithMetrics(m))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `qamatch_search_requests_total{mode="hybrid",status="ok"} 1`)
}

func TestUnansweredEndpoint(t *testing.T) {
	q := telemetry.NewQueryMetrics()
	q.Record(telemetry.QueryEvent{Query: "расписание автобусов", Mode: "hybrid", Timestamp: time.Now()})
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{}, WithQueryMetrics(q))

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/unanswered?limit=5", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "расписание автобусов")

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/unanswered?limit=x", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(nil, &fakeBacklog{})
	assert.Error(t, err)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, &fakeMatcher{}, &fakeBacklog{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
