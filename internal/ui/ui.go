// Package ui renders progress for the long-running qamatch commands
// (ingest build, backlog expand, eval run) and index status.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a step of a long-running command.
type Stage int

const (
	// StageParse splits staged chunks into question and answer.
	StageParse Stage = iota
	// StageAnswers writes the answer rows.
	StageAnswers
	// StageIndex embeds and writes index entries.
	StageIndex
	// StageExpand paraphrases backlog phrases.
	StageExpand
	// StageEvaluate runs labeled questions through retrieval.
	StageEvaluate
	// StageComplete indicates the command finished.
	StageComplete
)

// Stage lists shown in the TUI header.
var (
	BuildStages  = []Stage{StageParse, StageAnswers, StageIndex}
	ExpandStages = []Stage{StageExpand}
	EvalStages   = []Stage{StageEvaluate}
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageParse:
		return "Parse"
	case StageAnswers:
		return "Answers"
	case StageIndex:
		return "Index"
	case StageExpand:
		return "Expand"
	case StageEvaluate:
		return "Evaluate"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage label for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageParse:
		return "PARSE"
	case StageAnswers:
		return "ANSWERS"
	case StageIndex:
		return "INDEX"
	case StageExpand:
		return "EXPAND"
	case StageEvaluate:
		return "EVAL"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// StageFromName maps the ingest stage names ("parse", "answers", "index")
// to stages. Unknown names map to StageIndex.
func StageFromName(name string) Stage {
	switch name {
	case "parse":
		return StageParse
	case "answers":
		return StageAnswers
	case "expand":
		return StageExpand
	case "eval":
		return StageEvaluate
	default:
		return StageIndex
	}
}

// ProgressEvent represents a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Item    string // phrase or question being processed, optional
}

// ErrorEvent represents a failure during processing.
type ErrorEvent struct {
	Item   string
	Err    error
	IsWarn bool
}

// Count is one labeled number in a completion summary.
type Count struct {
	Label string
	Value int
}

// CompletionStats summarises a finished command.
type CompletionStats struct {
	Title    string
	Counts   []Count
	Duration time.Duration
	Errors   int
	Warnings int
}

// Renderer displays progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates progress display.
	UpdateProgress(event ProgressEvent)

	// AddError adds an error to display.
	AddError(event ErrorEvent)

	// Complete marks rendering as complete with summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	Title      string
	Stages     []Stage
	Unit       string // what Current counts, e.g. "entries"
}

// ConfigOption is a function that modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the panel title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// WithStages sets the stages shown in the header.
func WithStages(stages ...Stage) ConfigOption {
	return func(c *Config) {
		c.Stages = stages
	}
}

// WithUnit names what the progress counter counts.
func WithUnit(unit string) ConfigOption {
	return func(c *Config) {
		c.Unit = unit
	}
}

// NewConfig creates a new Config with the given output and options.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{
		Output: output,
		Title:  "qamatch",
		Unit:   "items",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a
// plain text renderer for CI, pipes, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// DetectNoColor checks if NO_COLOR environment variable is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
