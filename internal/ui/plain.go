package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer outputs line-oriented progress for CI and pipes.
type PlainRenderer struct {
	mu   sync.Mutex
	out  io.Writer
	unit string
	last map[Stage]int
}

// NewPlainRenderer creates a plain text renderer. With a known total,
// a stage prints at most about twenty lines.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{
		out:  cfg.Output,
		unit: cfg.Unit,
		last: make(map[Stage]int),
	}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.Total > 0 {
		step := max(event.Total/20, 1)
		prev, seen := r.last[event.Stage]
		if seen && event.Current < event.Total && event.Current-prev < step {
			return
		}
		r.last[event.Stage] = event.Current
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d %s", event.Stage.Icon(), event.Current, event.Total, r.unit)
	} else {
		_, _ = fmt.Fprintf(r.out, "[%s]", event.Stage.Icon())
	}
	if event.Item != "" {
		_, _ = fmt.Fprintf(r.out, " - %s", event.Item)
	}
	_, _ = fmt.Fprintln(r.out)
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.Item != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.Item, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	title := stats.Title
	if title == "" {
		title = "Complete"
	}
	_, _ = fmt.Fprintf(r.out, "%s in %s", title, stats.Duration.Round(10*time.Millisecond))
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)
	for _, c := range stats.Counts {
		_, _ = fmt.Fprintf(r.out, "  %-10s %d\n", c.Label+":", c.Value)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

var _ Renderer = (*PlainRenderer)(nil)
