package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/search"
)

// Request bodies. Counts are pointers so an absent value (default) can be
// told apart from an explicit one (validated).
type matchRequest struct {
	QueryText      string    `json:"query_text"`
	QueryEmbedding []float32 `json:"query_embedding"`
	MatchCount     *int      `json:"match_count"`
	TopK           *int      `json:"top_k"`
}

type backlogRequest struct {
	MaxRows *int `json:"max_rows"`
}

type markDoneRequest struct {
	BaseSearchHash string `json:"base_search_hash"`
}

// Response rows. Each operation returns exactly its own columns.
type vectorRow struct {
	AnswerID   int64   `json:"answer_id"`
	SearchText string  `json:"search_text"`
	Similarity float64 `json:"similarity"`
	Score      float64 `json:"score"`
}

type trigramRow struct {
	AnswerID   int64   `json:"answer_id"`
	SearchText string  `json:"search_text"`
	Trigram    float64 `json:"trigram"`
	Score      float64 `json:"score"`
}

type hybridRow struct {
	AnswerID   int64   `json:"answer_id"`
	SearchText string  `json:"search_text"`
	Similarity float64 `json:"similarity"`
	Trigram    float64 `json:"trigram"`
	Score      float64 `json:"score"`
}

type markDoneResponse struct {
	BaseSearchHash string `json:"base_search_hash"`
	Inserted       bool   `json:"inserted"`
}

type errorEnvelope struct {
	Error qaerrors.ErrorBody `json:"error"`
}

func (s *Server) matchVector(c *gin.Context) {
	var req matchRequest
	count, ok := s.bindMatch(c, &req)
	if !ok {
		return
	}
	results, err := s.matcher.VectorMatch(c.Request.Context(), req.QueryEmbedding, count)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rows := make([]vectorRow, len(results))
	for i, r := range results {
		rows[i] = vectorRow{AnswerID: r.AnswerID, SearchText: r.SearchText, Similarity: r.Similarity, Score: r.Score}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) matchTrigram(c *gin.Context) {
	var req matchRequest
	count, ok := s.bindMatch(c, &req)
	if !ok {
		return
	}
	results, err := s.matcher.LexicalMatch(c.Request.Context(), req.QueryText, count)
	if err != nil {
		s.respondError(c, err)
		return
	}
	rows := make([]trigramRow, len(results))
	for i, r := range results {
		rows[i] = trigramRow{AnswerID: r.AnswerID, SearchText: r.SearchText, Trigram: r.Trigram, Score: r.Score}
	}
	c.JSON(http.StatusOK, rows)
}

func (s *Server) matchHybrid(c *gin.Context) {
	var req matchRequest
	count, ok := s.bindMatch(c, &req)
	if !ok {
		return
	}
	results, err := s.matcher.HybridMatch(c.Request.Context(), req.QueryText, req.QueryEmbedding, count)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hybridRows(results))
}

func (s *Server) evalVector(c *gin.Context) {
	var req matchRequest
	topK, ok := s.bindTopK(c, &req)
	if !ok {
		return
	}
	scored, err := s.matcher.EvalVector(c.Request.Context(), req.QueryEmbedding, topK)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(scored))
}

func (s *Server) evalHybrid(c *gin.Context) {
	var req matchRequest
	topK, ok := s.bindTopK(c, &req)
	if !ok {
		return
	}
	scored, err := s.matcher.EvalHybrid(c.Request.Context(), req.QueryText, req.QueryEmbedding, topK)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(scored))
}

func (s *Server) paraphraseCandidates(c *gin.Context) {
	var req backlogRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	maxRows := 0
	if req.MaxRows != nil {
		if *req.MaxRows < 1 {
			s.respondError(c, qaerrors.ValidationError(fmt.Sprintf("max_rows must be at least 1, got %d", *req.MaxRows), nil))
			return
		}
		maxRows = *req.MaxRows
	}
	items, err := s.backlog.SelectBacklog(c.Request.Context(), maxRows)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, nonNil(items))
}

func (s *Server) markParaphraseDone(c *gin.Context) {
	var req markDoneRequest
	if err := bindJSON(c, &req); err != nil {
		s.respondError(c, err)
		return
	}
	if req.BaseSearchHash == "" {
		s.respondError(c, qaerrors.ValidationError("base_search_hash is required", nil))
		return
	}
	inserted, err := s.backlog.MarkDone(c.Request.Context(), req.BaseSearchHash)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, markDoneResponse{BaseSearchHash: req.BaseSearchHash, Inserted: inserted})
}

func (s *Server) healthz(c *gin.Context) {
	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) unanswered(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondError(c, qaerrors.ValidationError("limit must be a positive integer", err))
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, s.queries.Unanswered(limit))
}

// bindMatch decodes a match request and resolves its count: absent means
// the engine default (0), explicit values below 1 are rejected.
func (s *Server) bindMatch(c *gin.Context, req *matchRequest) (int, bool) {
	if err := bindJSON(c, req); err != nil {
		s.respondError(c, err)
		return 0, false
	}
	n := req.MatchCount
	if n == nil {
		return 0, true
	}
	if err := search.ValidateMatchCount(*n); err != nil {
		s.respondError(c, err)
		return 0, false
	}
	return *n, true
}

// bindTopK is bindMatch for the eval endpoints, where top_k has no default.
func (s *Server) bindTopK(c *gin.Context, req *matchRequest) (int, bool) {
	if err := bindJSON(c, req); err != nil {
		s.respondError(c, err)
		return 0, false
	}
	if req.TopK == nil {
		s.respondError(c, qaerrors.New(qaerrors.ErrCodeInvalidMatchCount, "top_k is required", nil))
		return 0, false
	}
	if err := search.ValidateMatchCount(*req.TopK); err != nil {
		s.respondError(c, err)
		return 0, false
	}
	return *req.TopK, true
}

// bindJSON decodes the body into v. An empty body leaves v untouched.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return qaerrors.New(qaerrors.ErrCodeInvalidInput, "malformed JSON body", err)
	}
	return nil
}

// respondError writes err as an error envelope with a status derived from
// its code.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("rpc failed",
			slog.String("path", c.FullPath()),
			slog.String("code", qaerrors.GetCode(err)),
			slog.String("error", err.Error()))
	}
	c.AbortWithStatusJSON(status, errorEnvelope{Error: qaerrors.Body(err)})
}

func statusFor(err error) int {
	switch {
	case qaerrors.IsValidation(err):
		return http.StatusBadRequest
	case qaerrors.HasCode(err, qaerrors.ErrCodeAllSourcesUnavailable):
		return http.StatusServiceUnavailable
	case qaerrors.HasCode(err, qaerrors.ErrCodeRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func hybridRows(results []search.Result) []hybridRow {
	rows := make([]hybridRow, len(results))
	for i, r := range results {
		rows[i] = hybridRow{
			AnswerID:   r.AnswerID,
			SearchText: r.SearchText,
			Similarity: r.Similarity,
			Trigram:    r.Trigram,
			Score:      r.Score,
		}
	}
	return rows
}

// nonNil keeps empty results encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
