package ui

import "strings"

// sparkChars are eight bar heights, lowest first.
var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Sparkline keeps the last width samples in a ring and renders them as
// block characters scaled to the largest sample held.
type Sparkline struct {
	samples []float64
	head    int
	count   int
}

// NewSparkline creates a sparkline holding width samples.
func NewSparkline(width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{samples: make([]float64, width)}
}

// Add records a sample, overwriting the oldest when full.
func (s *Sparkline) Add(v float64) {
	s.samples[s.head] = v
	s.head = (s.head + 1) % len(s.samples)
	s.count++
}

// Len returns the number of samples held.
func (s *Sparkline) Len() int {
	return min(s.count, len(s.samples))
}

// Clear drops all samples.
func (s *Sparkline) Clear() {
	clear(s.samples)
	s.head = 0
	s.count = 0
}

// Render draws the most recent samples right-aligned in width cells.
func (s *Sparkline) Render(width int) string {
	if width <= 0 {
		width = len(s.samples)
	}
	n := min(s.Len(), width)

	recent := make([]float64, n)
	peak := 0.0
	for i := range n {
		idx := (s.head - n + i + len(s.samples)) % len(s.samples)
		recent[i] = s.samples[idx]
		peak = max(peak, recent[i])
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat(" ", width-n))
	for _, v := range recent {
		level := 0
		if peak > 0 {
			level = int(v / peak * float64(len(sparkChars)-1))
		}
		level = min(max(level, 0), len(sparkChars)-1)
		sb.WriteRune(sparkChars[level])
	}
	return sb.String()
}
