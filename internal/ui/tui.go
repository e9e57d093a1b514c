package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *progressModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// NewTUIRenderer creates a TUI renderer. It fails when the output is not
// a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	first := StageComplete
	if len(cfg.Stages) > 0 {
		first = cfg.Stages[0]
	}
	tracker := NewProgressTracker(first)
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   newProgressModel(tracker, cfg),
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)
	r.started = true

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(event ProgressEvent) {
	r.tracker.Update(event)
	r.send(refreshMsg{})
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(event ErrorEvent) {
	r.tracker.AddError(event)
	r.send(refreshMsg{})
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.SetStage(StageComplete, 0)
	r.send(completeMsg(stats))
}

// Stop implements Renderer. It waits up to two seconds for the program
// to exit.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	program, cancel := r.program, r.cancel
	r.mu.Unlock()

	if program == nil {
		return nil
	}
	program.Quit()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	program := r.program
	r.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

type refreshMsg struct{}
type completeMsg CompletionStats
type tickMsg time.Time

type progressModel struct {
	tracker  *ProgressTracker
	cfg      Config
	styles   Styles
	spinner  spinner.Model
	bar      progress.Model
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
}

func newProgressModel(tracker *ProgressTracker, cfg Config) *progressModel {
	styles := GetStyles(cfg.NoColor)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Active

	bar := progress.New(
		progress.WithSolidFill(ColorAccent),
		progress.WithWidth(50),
		progress.WithoutPercentage(),
	)

	return &progressModel{
		tracker: tracker,
		cfg:     cfg,
		styles:  styles,
		spinner: s,
		bar:     bar,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-20, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	width := max(m.width-4, 40)
	if m.complete {
		return m.renderComplete(width)
	}

	stats := m.tracker.Stats()
	sections := []string{m.renderStages(stats.Stage)}
	if len(m.cfg.Stages) > 1 {
		sections = append(sections, m.styles.Border.Render(strings.Repeat("─", width)))
	}
	sections = append(sections, m.renderProgress(stats))
	if stats.Speed > 0 {
		sections = append(sections, m.styles.Label.Render(fmt.Sprintf("%.1f %s/s", stats.Speed, m.cfg.Unit))+
			"  "+m.styles.Success.Render(m.tracker.Sparkline(max(width-24, 10))))
	}
	if stats.Item != "" {
		sections = append(sections, m.styles.Dim.Render(truncate(stats.Item, width-2)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)
	view := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(m.cfg.Title),
		panel.Render(strings.Join(sections, "\n")),
	)
	return view + "\n" + m.renderStatusBar(stats) + "\n"
}

func (m *progressModel) renderStages(current Stage) string {
	parts := make([]string, 0, len(m.cfg.Stages))
	for _, s := range m.cfg.Stages {
		switch {
		case s < current:
			parts = append(parts, m.styles.Success.Render("● "+s.String()))
		case s == current:
			parts = append(parts, m.styles.Active.Render(m.spinner.View()+" "+s.String()))
		default:
			parts = append(parts, m.styles.Dim.Render("○ "+s.String()))
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *progressModel) renderProgress(stats ProgressStats) string {
	if stats.Total == 0 {
		return fmt.Sprintf("%s %s...", m.spinner.View(), stats.Stage)
	}
	line := m.bar.ViewAs(stats.Progress) + "  " +
		m.styles.Active.Render(fmt.Sprintf("%3.0f%%", stats.Progress*100))
	count := fmt.Sprintf("%d / %d %s", stats.Current, stats.Total, m.cfg.Unit)
	if stats.ETA > 0 {
		count += "  •  ETA " + formatDuration(stats.ETA)
	}
	return line + "\n" + m.styles.Label.Render(count)
}

func (m *progressModel) renderStatusBar(stats ProgressStats) string {
	var parts []string
	if stats.Warnings > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", stats.Warnings)))
	}
	if stats.Errors > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d errors", stats.Errors)))
	}
	parts = append(parts, m.styles.Dim.Render("q to quit"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *progressModel) renderComplete(width int) string {
	title := m.stats.Title
	if title == "" {
		title = "Complete"
	}
	lines := []string{m.styles.Success.Render("✓ " + title), ""}
	for _, c := range m.stats.Counts {
		lines = append(lines, fmt.Sprintf("%s %s",
			m.styles.Label.Render(fmt.Sprintf("%-10s", c.Label+":")),
			m.styles.Active.Render(fmt.Sprint(c.Value))))
	}
	lines = append(lines, fmt.Sprintf("%s %s",
		m.styles.Label.Render(fmt.Sprintf("%-10s", "Duration:")),
		m.styles.Active.Render(formatDuration(m.stats.Duration))))
	if m.stats.Errors > 0 {
		lines = append(lines, "", m.styles.Error.Render(fmt.Sprintf("✗ %d errors", m.stats.Errors)))
	}

	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(width)
	return panel.Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration formats a duration in a human-friendly way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		m, s := int(d.Minutes()), int(d.Seconds())%60
		if s == 0 {
			return fmt.Sprintf("%dm", m)
		}
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// truncate shortens s to maxRunes, keeping the start.
func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if maxRunes <= 3 || len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes-3]) + "..."
}

var _ Renderer = (*TUIRenderer)(nil)
