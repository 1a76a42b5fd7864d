// Package dashboard renders the live operator console: pipeline counters,
// rolling interaction timings, and the latest reply. It also owns the
// operator keybindings, which mutate the scheduler's control flags.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"replybot/internal/scheduler"
	"replybot/internal/stats"
)

const refreshEvery = 500 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	flagOnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the bubbletea model for the console. It reads stats snapshots on
// a timer; it never touches the pipeline directly.
type Model struct {
	stats     *stats.Stats
	controls  *scheduler.Controls
	targetURL string
	start     time.Time
	snap      stats.Snapshot
	spin      spinner.Model
	width     int
}

// New returns a dashboard bound to the shared stats and controls. targetURL
// is shown in the header when non-empty.
func New(st *stats.Stats, controls *scheduler.Controls, targetURL string) Model {
	return Model{
		stats:     st,
		controls:  controls,
		targetURL: targetURL,
		start:     time.Now(),
		snap:      st.Snapshot(),
		spin:      spinner.New(spinner.WithSpinner(spinner.Line), spinner.WithStyle(flagOnStyle)),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.snap = m.stats.Snapshot()
		// Dots while the loop is parked waiting on the operator, a plain
		// line spinner while it works.
		if m.controls.CaptchaPending() {
			m.spin.Spinner = spinner.Dot
		} else {
			m.spin.Spinner = spinner.Line
		}
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.controls.RequestQuit()
			return m, tea.Quit
		case "p":
			m.controls.TogglePause()
		case "d":
			m.controls.ToggleDryRun()
		case "r":
			m.controls.RequestRefresh()
		case "c":
			m.controls.ResumeCaptcha()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("replybot"))
	b.WriteString(" ")
	b.WriteString(m.spin.View())
	b.WriteString(" ")
	b.WriteString(labelStyle.Render(fmt.Sprintf("up %s", time.Since(m.start).Round(time.Second))))
	for _, f := range m.flags() {
		b.WriteString("  ")
		b.WriteString(flagOnStyle.Render(f))
	}
	b.WriteString("\n")
	if m.targetURL != "" {
		b.WriteString(labelStyle.Render(m.targetURL))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(boxStyle.Render(m.countersView()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.timersView()))
	b.WriteString("\n")
	b.WriteString(m.activityView())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("p pause · d dry-run · r refresh · c captcha done · q quit"))
	b.WriteString("\n")

	return b.String()
}

func (m Model) flags() []string {
	var flags []string
	if m.controls.Paused() {
		flags = append(flags, "PAUSED")
	}
	if m.controls.DryRun() {
		flags = append(flags, "DRY-RUN")
	}
	if m.controls.CaptchaPending() {
		flags = append(flags, "CAPTCHA")
	}
	return flags
}

func (m Model) countersView() string {
	rows := []struct {
		label string
		key   string
	}{
		{"Ditemukan", stats.Found},
		{"Calon Balas", stats.Candidates},
		{"Sudah Balas", stats.Replied},
		{"Skip Kata", stats.SkipKeyword},
		{"Skip Tombol", stats.SkipButton},
		{"Terlalu Lama", stats.AgedOut},
		{"AI Ambigu", stats.Ambiguous},
		{"AI Mati", stats.AIFallback},
		{"Duplikat", stats.Duplicate},
		{"Gagal Jaringan", stats.NetError},
		{"Balasan Ditutup", stats.ReplyClosed},
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(labelStyle.Width(16).Render(row.label))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%d", m.snap.Get(row.key))))
	}
	return b.String()
}

func (m Model) timersView() string {
	rows := []struct {
		label string
		key   string
	}{
		{"Siklus scan", stats.TimerScanCycle},
		{"Klik balas", stats.TimerClick},
		{"Buka komposer", stats.TimerComposer},
		{"Kirim", stats.TimerSubmit},
	}
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(labelStyle.Width(16).Render(row.label))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%d ms", m.snap.AvgMs(row.key))))
	}
	return b.String()
}

func (m Model) activityView() string {
	if m.snap.Activity == nil {
		return labelStyle.Render("Belum ada balasan.")
	}
	return labelStyle.Render(fmt.Sprintf("Balasan terakhir: @%s (%s)",
		m.snap.Activity.Author,
		m.snap.Activity.At.Format("15:04:05")))
}

// Run starts the console and blocks until the operator quits or ctx is
// cancelled.
func Run(ctx context.Context, st *stats.Stats, controls *scheduler.Controls, targetURL string) error {
	p := tea.NewProgram(New(st, controls, targetURL), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return ctx.Err()
	}
	return err
}
