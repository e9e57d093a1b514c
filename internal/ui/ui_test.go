package ui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Stages and config
// =============================================================================

func TestStage_NamesAndIcons(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageParse, "Parse", "PARSE"},
		{StageAnswers, "Answers", "ANSWERS"},
		{StageIndex, "Index", "INDEX"},
		{StageExpand, "Expand", "EXPAND"},
		{StageEvaluate, "Evaluate", "EVAL"},
		{StageComplete, "Complete", "DONE"},
		{Stage(99), "Unknown", "???"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.name, tt.stage.String())
		assert.Equal(t, tt.icon, tt.stage.Icon())
	}
}

func TestStageFromName(t *testing.T) {
	assert.Equal(t, StageParse, StageFromName("parse"))
	assert.Equal(t, StageAnswers, StageFromName("answers"))
	assert.Equal(t, StageIndex, StageFromName("index"))
	assert.Equal(t, StageExpand, StageFromName("expand"))
	assert.Equal(t, StageEvaluate, StageFromName("eval"))
}

func TestNewConfig_AppliesOptions(t *testing.T) {
	cfg := NewConfig(&bytes.Buffer{},
		WithForcePlain(true),
		WithNoColor(true),
		WithTitle("qamatch ingest"),
		WithStages(BuildStages...),
		WithUnit("entries"))

	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
	assert.Equal(t, "qamatch ingest", cfg.Title)
	assert.Equal(t, BuildStages, cfg.Stages)
	assert.Equal(t, "entries", cfg.Unit)
}

func TestNewRenderer_BufferIsPlain(t *testing.T) {
	// Given: a non-TTY output
	r := NewRenderer(NewConfig(&bytes.Buffer{}))

	// Then: the plain renderer is chosen
	_, ok := r.(*PlainRenderer)
	assert.True(t, ok)
}

func TestNewTUIRenderer_RejectsNonTTY(t *testing.T) {
	_, err := NewTUIRenderer(NewConfig(&bytes.Buffer{}))
	assert.Error(t, err)
}

func TestIsTTY_NonFile(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}

func TestDetectCI(t *testing.T) {
	t.Setenv("GITHUB_ACTIONS", "true")
	assert.True(t, DetectCI())
}

// =============================================================================
// Plain renderer
// =============================================================================

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer counting entries
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf, WithUnit("entries")))

	// When: updating progress
	r.UpdateProgress(ProgressEvent{Stage: StageIndex, Current: 50, Total: 100, Item: "как сдать экзамен"})

	// Then: output is correctly formatted
	assert.Equal(t, "[INDEX] 50/100 entries - как сдать экзамен\n", buf.String())
}

func TestPlainRenderer_ThrottlesLines(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: reporting every step of a 1000-item stage
	for i := 1; i <= 1000; i++ {
		r.UpdateProgress(ProgressEvent{Stage: StageEvaluate, Current: i, Total: 1000})
	}

	// Then: only about twenty lines are printed and the last one is final
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.LessOrEqual(t, len(lines), 22)
	assert.Equal(t, "[EVAL] 1000/1000 items", lines[len(lines)-1])
}

func TestPlainRenderer_NoTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{Stage: StageParse})

	assert.Equal(t, "[PARSE]\n", buf.String())
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	for _, stage := range []Stage{StageParse, StageAnswers, StageIndex, StageExpand, StageEvaluate} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Current: 1, Total: 2})
	}
	r.Complete(CompletionStats{Title: "Build complete", Duration: time.Second})

	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_AddError(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.AddError(ErrorEvent{Item: "мудль", Err: errors.New("model timeout")})
	r.AddError(ErrorEvent{Err: errors.New("slow"), IsWarn: true})

	assert.Equal(t, "ERROR: мудль: model timeout\nWARN: slow\n", buf.String())
}

func TestPlainRenderer_Complete(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))
	require.NoError(t, r.Start(context.Background()))

	r.Complete(CompletionStats{
		Title:    "Expansion complete",
		Counts:   []Count{{"Expanded", 12}, {"Inserted", 96}},
		Duration: 1500 * time.Millisecond,
		Errors:   1,
	})

	out := buf.String()
	assert.Contains(t, out, "Expansion complete in 1.5s (1 errors, 0 warnings)")
	assert.Contains(t, out, "  Expanded:  12\n")
	assert.Contains(t, out, "  Inserted:  96\n")
	assert.NoError(t, r.Stop())
}

// =============================================================================
// Tracker and sparkline
// =============================================================================

func TestProgressTracker_StageChangeResets(t *testing.T) {
	p := NewProgressTracker(StageParse)

	p.Update(ProgressEvent{Stage: StageParse, Current: 5, Total: 10, Item: "q"})
	p.AddError(ErrorEvent{Err: errors.New("x")})
	p.AddError(ErrorEvent{Err: errors.New("y"), IsWarn: true})

	stats := p.Stats()
	assert.Equal(t, 0.5, stats.Progress)
	assert.Equal(t, "q", stats.Item)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Warnings)

	p.Update(ProgressEvent{Stage: StageIndex, Current: 1, Total: 4})

	stats = p.Stats()
	assert.Equal(t, StageIndex, stats.Stage)
	assert.Equal(t, 0.25, stats.Progress)
	assert.Empty(t, stats.Item)
	assert.Equal(t, 1, stats.Errors, "error counts survive stage changes")
}

func TestProgressTracker_ProgressCapped(t *testing.T) {
	p := NewProgressTracker(StageIndex)
	p.Update(ProgressEvent{Stage: StageIndex, Current: 12, Total: 10})

	assert.Equal(t, 1.0, p.Stats().Progress)
	assert.Zero(t, p.Stats().ETA)
}

func TestSparkline_Render(t *testing.T) {
	s := NewSparkline(4)
	assert.Equal(t, "      ", s.Render(6))

	for _, v := range []float64{1, 2, 4, 8, 8} {
		s.Add(v)
	}

	// Given: width 4 holds the last four samples
	assert.Equal(t, 4, s.Len())
	assert.Equal(t, "▂▄██", s.Render(4))
	assert.Equal(t, "  ▂▄██", s.Render(6))
	assert.Equal(t, "██", s.Render(2))

	s.Clear()
	assert.Zero(t, s.Len())
}

// =============================================================================
// TUI model
// =============================================================================

func TestProgressModel_View(t *testing.T) {
	cfg := NewConfig(&bytes.Buffer{}, WithNoColor(true), WithTitle("qamatch ingest"),
		WithStages(BuildStages...), WithUnit("entries"))
	tracker := NewProgressTracker(StageParse)
	m := newProgressModel(tracker, cfg)

	tracker.Update(ProgressEvent{Stage: StageIndex, Current: 3, Total: 4, Item: "what is gpa"})
	view := m.View()

	assert.Contains(t, view, "qamatch ingest")
	assert.Contains(t, view, "● Parse")
	assert.NotContains(t, view, "○ ", "no stage is pending after index")
	assert.Contains(t, view, "3 / 4 entries")
	assert.Contains(t, view, "what is gpa")
}

func TestProgressModel_Complete(t *testing.T) {
	cfg := NewConfig(&bytes.Buffer{}, WithNoColor(true))
	m := newProgressModel(NewProgressTracker(StageEvaluate), cfg)

	_, cmd := m.Update(completeMsg(CompletionStats{Title: "Eval complete", Counts: []Count{{"Questions", 40}}}))

	assert.NotNil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "✓ Eval complete")
	assert.Contains(t, view, "Questions:")
	assert.Contains(t, view, "40")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "2m", formatDuration(2*time.Minute))
	assert.Equal(t, "2m 5s", formatDuration(125*time.Second))
	assert.Equal(t, "1h 1m", formatDuration(61*time.Minute))
}

// =============================================================================
// Status
// =============================================================================

func TestStatusRenderer(t *testing.T) {
	info := StatusInfo{
		Backend: "sqlite", Location: "/tmp/qa.db", Answers: 3, Entries: 8,
		EmbedderProvider: "static", EmbedderModel: "static", Dimensions: 8, EmbedderStatus: "ready",
	}

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, NewStatusRenderer(buf, true).Render(info))
		out := buf.String()
		assert.Contains(t, out, "Index Status")
		assert.Contains(t, out, "Answers:   3")
		assert.Contains(t, out, "static (static, 8 dims) ready")
	})

	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		require.NoError(t, NewStatusRenderer(buf, true).RenderJSON(info))
		var got StatusInfo
		require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
		assert.Equal(t, info, got)
	})
}
