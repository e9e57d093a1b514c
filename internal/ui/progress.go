package ui

import (
	"sync"
	"time"
)

const (
	// speedInterval is how often throughput is sampled.
	speedInterval = 500 * time.Millisecond

	// etaSmoothing weights a new ETA estimate against the previous one.
	etaSmoothing = 0.3
)

// ProgressTracker holds progress state for the TUI. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu         sync.Mutex
	stage      Stage
	current    int
	total      int
	item       string
	stageStart time.Time
	errors     int
	warnings   int
	lastETA    time.Duration

	lastCurrent int
	lastSample  time.Time
	avgSpeed    float64
	sparkline   *Sparkline
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage    Stage
	Current  int
	Total    int
	Progress float64 // 0.0-1.0
	ETA      time.Duration
	Item     string
	Errors   int
	Warnings int
	Speed    float64 // smoothed items per second
}

// NewProgressTracker creates a tracker positioned at stage.
func NewProgressTracker(stage Stage) *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      stage,
		stageStart: now,
		lastSample: now,
		sparkline:  NewSparkline(60),
	}
}

// SetStage moves to a new stage and resets the counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset(stage, total)
}

// reset must be called with the lock held.
func (p *ProgressTracker) reset(stage Stage, total int) {
	now := time.Now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.item = ""
	p.stageStart = now
	p.lastETA = 0
	p.lastCurrent = 0
	p.lastSample = now
	p.avgSpeed = 0
	p.sparkline.Clear()
}

// Update applies a progress event, switching stage when it changes.
func (p *ProgressTracker) Update(event ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.Stage != p.stage {
		p.reset(event.Stage, event.Total)
	}

	p.current = event.Current
	if event.Total > 0 {
		p.total = event.Total
	}
	if event.Item != "" {
		p.item = event.Item
	}

	now := time.Now()
	elapsed := now.Sub(p.lastSample)
	if elapsed < speedInterval {
		return
	}
	if delta := p.current - p.lastCurrent; delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		if p.avgSpeed == 0 {
			p.avgSpeed = speed
		} else {
			p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
		}
		p.sparkline.Add(speed)
	}
	p.lastCurrent = p.current
	p.lastSample = now
}

// AddError counts an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.IsWarn {
		p.warnings++
	} else {
		p.errors++
	}
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := 0.0
	if p.total > 0 {
		progress = min(float64(p.current)/float64(p.total), 1.0)
	}
	return ProgressStats{
		Stage:    p.stage,
		Current:  p.current,
		Total:    p.total,
		Progress: progress,
		ETA:      p.eta(progress),
		Item:     p.item,
		Errors:   p.errors,
		Warnings: p.warnings,
		Speed:    p.avgSpeed,
	}
}

// Sparkline renders recent throughput in width cells.
func (p *ProgressTracker) Sparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sparkline.Render(width)
}

// eta must be called with the lock held.
func (p *ProgressTracker) eta(progress float64) time.Duration {
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}
