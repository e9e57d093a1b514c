// Package api serves the retrieval operations as JSON RPC endpoints over
// HTTP. Paths and parameter names match the database functions existing
// callers were written against:
//
//	POST /rpc/match_qa_vector           {query_embedding, match_count}
//	POST /rpc/match_qa_index            alias of match_qa_vector
//	POST /rpc/match_qa_trigram          {query_text, match_count}
//	POST /rpc/match_qa_hybrid           {query_text, query_embedding, match_count}
//	POST /rpc/get_paraphrase_candidates {max_rows}
//	POST /rpc/mark_paraphrase_done      {base_search_hash}
//	POST /rpc/eval_match_vector         {query_embedding, top_k}
//	POST /rpc/eval_match_hybrid         {query_text, query_embedding, top_k}
//
// GET /healthz, GET /metrics and GET /debug/unanswered are served alongside.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aman-CERP/qamatch/internal/backlog"
	"github.com/Aman-CERP/qamatch/internal/search"
	"github.com/Aman-CERP/qamatch/internal/telemetry"
)

// shutdownTimeout bounds graceful shutdown in Run.
const shutdownTimeout = 10 * time.Second

// Matcher is the retrieval engine as seen by the handlers.
type Matcher interface {
	VectorMatch(ctx context.Context, embedding []float32, matchCount int) ([]search.Result, error)
	LexicalMatch(ctx context.Context, text string, matchCount int) ([]search.Result, error)
	HybridMatch(ctx context.Context, text string, embedding []float32, matchCount int) ([]search.Result, error)
	EvalVector(ctx context.Context, embedding []float32, topK int) ([]search.Scored, error)
	EvalHybrid(ctx context.Context, text string, embedding []float32, topK int) ([]search.Scored, error)
}

// Backlog is the paraphrase backlog as seen by the handlers.
type Backlog interface {
	SelectBacklog(ctx context.Context, maxRows int) ([]backlog.Item, error)
	MarkDone(ctx context.Context, hash string) (bool, error)
}

// HealthFunc reports whether the server's dependencies are usable.
type HealthFunc func(ctx context.Context) error

// Server is the HTTP surface.
type Server struct {
	matcher Matcher
	backlog Backlog
	metrics *telemetry.Metrics
	queries *telemetry.QueryMetrics
	health  HealthFunc
	logger  *slog.Logger
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m on /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithQueryMetrics serves recent unanswered queries on /debug/unanswered.
func WithQueryMetrics(q *telemetry.QueryMetrics) Option {
	return func(s *Server) { s.queries = q }
}

// WithHealthCheck makes /healthz report fn's result.
func WithHealthCheck(fn HealthFunc) Option {
	return func(s *Server) { s.health = fn }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the server and its routes.
func New(matcher Matcher, bl Backlog, opts ...Option) (*Server, error) {
	if matcher == nil || bl == nil {
		return nil, errors.New("api: matcher and backlog are required")
	}
	s := &Server{matcher: matcher, backlog: bl, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog(s.logger))

	r.GET("/healthz", s.healthz)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.queries != nil {
		r.GET("/debug/unanswered", s.unanswered)
	}

	rpc := r.Group("/rpc")
	{
		rpc.POST("/match_qa_vector", s.matchVector)
		rpc.POST("/match_qa_index", s.matchVector)
		rpc.POST("/match_qa_trigram", s.matchTrigram)
		rpc.POST("/match_qa_hybrid", s.matchHybrid)
		rpc.POST("/get_paraphrase_candidates", s.paraphraseCandidates)
		rpc.POST("/mark_paraphrase_done", s.markParaphraseDone)
		rpc.POST("/eval_match_vector", s.evalVector)
		rpc.POST("/eval_match_hybrid", s.evalHybrid)
	}
	return r
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
