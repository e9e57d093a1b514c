package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/qamatch/internal/backlog"
	"github.com/Aman-CERP/qamatch/internal/embed"
	qaerrors "github.com/Aman-CERP/qamatch/internal/errors"
	"github.com/Aman-CERP/qamatch/internal/search"
	"github.com/Aman-CERP/qamatch/internal/telemetry"
	"github.com/Aman-CERP/qamatch/internal/textnorm"
	"github.com/Aman-CERP/qamatch/pkg/version"
)

// MaxLimit caps the limit argument of the match tools.
const MaxLimit = 50

// Matcher is the retrieval engine as seen by the tools.
type Matcher interface {
	VectorMatch(ctx context.Context, embedding []float32, matchCount int) ([]search.Result, error)
	LexicalMatch(ctx context.Context, text string, matchCount int) ([]search.Result, error)
	HybridMatch(ctx context.Context, text string, embedding []float32, matchCount int) ([]search.Result, error)
}

// Backlog lists paraphrase candidates.
type Backlog interface {
	SelectBacklog(ctx context.Context, maxRows int) ([]backlog.Item, error)
}

// Server is the MCP server for qamatch.
// Tools take question text and embed it server-side.
type Server struct {
	mcp       *mcp.Server
	matcher   Matcher
	backlog   Backlog
	embedder  embed.Embedder
	logger    *slog.Logger
	threshold float64

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithThreshold sets the score below which a match is reported as not found.
func WithThreshold(t float64) Option {
	return func(s *Server) { s.threshold = t }
}

var tools = []ToolInfo{
	{
		Name:        ToolHybridMatch,
		Description: "Find knowledge-base answers for a question using vector and trigram similarity fused together. Best default for user questions in Kazakh, Russian or English.",
	},
	{
		Name:        ToolVectorMatch,
		Description: "Find answers by embedding similarity only. Use for paraphrased questions that share few words with the stored text.",
	},
	{
		Name:        ToolLexicalMatch,
		Description: "Find answers by character-trigram similarity only. Use for exact terms, codes and names.",
	},
	{
		Name:        ToolParaphraseBacklog,
		Description: "List rule phrases that still need paraphrase expansion.",
	},
}

// NewServer creates an MCP server over the retrieval engine and backlog.
func NewServer(matcher Matcher, bl Backlog, embedder embed.Embedder, opts ...Option) (*Server, error) {
	if matcher == nil {
		return nil, errors.New("matcher is required")
	}
	if bl == nil {
		return nil, errors.New("backlog is required")
	}
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}

	s := &Server{
		matcher:   matcher,
		backlog:   bl,
		embedder:  embedder,
		logger:    slog.Default(),
		threshold: search.DefaultNoAnswerThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{Name: "qamatch", Version: version.Version},
		nil,
	)
	s.registerTools()

	return s, nil
}

// SetMetrics sets the query metrics collector.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "qamatch", version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(tools))
	copy(out, tools)
	return out
}

// CallTool invokes a tool by name with JSON-style arguments.
// Results are the tool's structured output.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolHybridMatch, ToolVectorMatch, ToolLexicalMatch:
		var in MatchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.match(ctx, modeFor(name), in)
	case ToolParaphraseBacklog:
		var in BacklogInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.listBacklog(ctx, in)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// Serve runs the server over stdio until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	for _, t := range tools[:3] {
		mode := modeFor(t.Name)
		mcp.AddTool(s.mcp, &mcp.Tool{Name: t.Name, Description: t.Description},
			func(ctx context.Context, _ *mcp.CallToolRequest, in MatchInput) (*mcp.CallToolResult, MatchOutput, error) {
				out, err := s.match(ctx, mode, in)
				if err != nil {
					return nil, MatchOutput{}, err
				}
				return textResult(FormatMatch(out)), *out, nil
			})
		s.logger.Debug("Registered tool", slog.String("name", t.Name))
	}

	mcp.AddTool(s.mcp, &mcp.Tool{Name: ToolParaphraseBacklog, Description: tools[3].Description},
		func(ctx context.Context, _ *mcp.CallToolRequest, in BacklogInput) (*mcp.CallToolResult, BacklogOutput, error) {
			out, err := s.listBacklog(ctx, in)
			if err != nil {
				return nil, BacklogOutput{}, err
			}
			return textResult(FormatBacklog(out)), *out, nil
		})

	s.logger.Info("MCP tools registered", slog.Int("count", len(tools)))
}

func (s *Server) match(ctx context.Context, mode search.Mode, in MatchInput) (*MatchOutput, error) {
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}
	if in.Limit < 0 {
		return nil, NewInvalidParamsError(fmt.Sprintf("limit must be positive, got %d", in.Limit))
	}
	limit := min(in.Limit, MaxLimit)

	requestID := generateRequestID()
	start := time.Now()
	s.logger.Debug("match started",
		slog.String("request_id", requestID),
		slog.String("mode", string(mode)),
		slog.Int("limit", limit))

	var (
		results []search.Result
		err     error
	)
	switch mode {
	case search.ModeLexical:
		results, err = s.matcher.LexicalMatch(ctx, query, limit)
	default:
		var vec []float32
		vec, err = s.embedQuery(ctx, query)
		if err != nil {
			break
		}
		if mode == search.ModeVector {
			results, err = s.matcher.VectorMatch(ctx, vec, limit)
		} else {
			results, err = s.matcher.HybridMatch(ctx, query, vec, limit)
		}
	}
	if err != nil {
		s.logger.Warn("match failed",
			slog.String("request_id", requestID),
			slog.String("mode", string(mode)),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	s.logger.Debug("match completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Int("result_count", len(results)))

	lang := textnorm.DetectLanguage(query)
	out := &MatchOutput{
		Query:    query,
		Mode:     string(mode),
		Language: lang,
		Results:  make([]AnswerRow, 0, len(results)),
	}
	for _, r := range results {
		out.Results = append(out.Results, toAnswerRow(r))
	}
	if best, ok := search.TopAnswer(results, s.threshold); ok {
		row := toAnswerRow(best)
		out.Answer = &row
	} else {
		out.NotFound = textnorm.NotFoundMessage(lang)
	}
	return out, nil
}

func (s *Server) listBacklog(ctx context.Context, in BacklogInput) (*BacklogOutput, error) {
	if in.MaxRows < 0 {
		return nil, NewInvalidParamsError(fmt.Sprintf("max_rows must be positive, got %d", in.MaxRows))
	}
	items, err := s.backlog.SelectBacklog(ctx, in.MaxRows)
	if err != nil {
		return nil, MapError(err)
	}
	if items == nil {
		items = []backlog.Item{}
	}
	return &BacklogOutput{Count: len(items), Items: items}, nil
}

func (s *Server) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		if _, ok := qaerrors.As(err); ok {
			return nil, err
		}
		return nil, qaerrors.Wrap(qaerrors.ErrCodeEmbeddingFailed, err)
	}
	return vec, nil
}

func modeFor(tool string) search.Mode {
	switch tool {
	case ToolVectorMatch:
		return search.ModeVector
	case ToolLexicalMatch:
		return search.ModeLexical
	default:
		return search.ModeHybrid
	}
}

func decodeArgs(args map[string]any, v any) error {
	if len(args) == 0 {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
