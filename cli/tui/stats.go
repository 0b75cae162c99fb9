package tui

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/justapithecus/edman/cli/reader"
)

// reloadedMsg carries the result of a ReloadFunc.
type reloadedMsg struct {
	data any
	err  error
}

// StatsModel is a Bubble Tea model for stats views.
type StatsModel struct {
	viewType string
	data     any
	reload   ReloadFunc
	err      error
	loading  bool
	help     help.Model
	width    int
	height   int
	quitting bool
}

// NewStatsModel creates a new stats model. reload may be nil.
func NewStatsModel(viewType string, data any, reload ReloadFunc) StatsModel {
	return StatsModel{
		viewType: viewType,
		data:     data,
		reload:   reload,
		help:     help.New(),
	}
}

// Init implements tea.Model.
func (m StatsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m StatsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case reloadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.data = msg.data
		}
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			if m.reload == nil || m.loading {
				return m, nil
			}
			m.loading = true
			reload := m.reload
			return m, func() tea.Msg {
				data, err := reload()
				return reloadedMsg{data: data, err: err}
			}
		}
	}

	return m, nil
}

// View implements tea.Model.
func (m StatsModel) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.viewType {
	case ViewStatsBridge:
		content = m.renderStatsBridge()
	default:
		content = fmt.Sprintf("Unknown view type: %s", m.viewType)
	}

	if m.err != nil {
		content += "\n\n" + ErrorStyle.Render("reload failed: "+m.err.Error())
	}
	if m.loading {
		content += "\n\n" + HelpStyle.Render("reloading...")
	}

	km := keys
	km.Refresh.SetEnabled(m.reload != nil)
	return content + "\n" + HelpStyle.Render(m.help.View(km))
}

func (m StatsModel) renderStatsBridge() string {
	data, ok := m.data.(*reader.BridgeStats)
	if !ok || data == nil {
		return "Invalid data type for stats_bridge"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Bridge Statistics"))
	b.WriteString("\n")

	b.WriteString(field("Transport", data.Transport))
	b.WriteString(field("Storage", data.StorageBackend))
	if data.Adapter != "" {
		b.WriteString(field("Adapter", data.Adapter))
	}
	if !data.RecordedAt.IsZero() {
		b.WriteString(field("Recorded", data.RecordedAt.Local().Format(time.DateTime)))
	}
	if data.Uptime != "" {
		b.WriteString(field("Uptime", data.Uptime))
	}
	b.WriteString("\n")

	boxes := []string{
		m.renderStatBox("Connections", data.ConnectionsAccepted, highlightColor),
		m.renderStatBox("Requests", data.Requests, highlightColor),
		m.renderStatBox("Files", data.FilesRegistered, successColor),
		m.renderStatBox("Errors", data.Errors, errorColor),
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n\n")

	b.WriteString(counterList("Requests by type", data.RequestsByType, false))
	b.WriteString(counterList("Errors by kind", data.ErrorsByKind, true))

	for _, c := range []struct {
		label string
		n     int64
	}{
		{"Forced closes", data.ConnectionsForced},
		{"Oversize frames", data.FramesTooLarge},
		{"Partial frames", data.FramesPartial},
		{"Oversize responses", data.ResponsesTooLarge},
		{"Pipe busy retries", data.PipeBusyRetries},
		{"Accept retries", data.AcceptRetries},
		{"Orphaned moves", data.OrphanedMoves},
		{"Store failures", data.StoreWriteFailure},
		{"Publish failures", data.PublishFailure},
	} {
		b.WriteString(LabelStyle.Render(c.label+":") + " " + CountStyle(c.n).Render(fmt.Sprintf("%d", c.n)) + "\n")
	}

	return b.String()
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value) + "\n"
}

func counterList(title string, counts map[string]int64, warn bool) string {
	if len(counts) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(highlightColor).Render(title))
	b.WriteString("\n")
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		style := ValueStyle
		if warn {
			style = CountStyle(counts[name])
		}
		b.WriteString("  " + LabelStyle.Render(name) + " " + style.Render(fmt.Sprintf("%d", counts[name])) + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

func (m StatsModel) renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)

	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)

	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RunStatsTUI runs the stats TUI.
func RunStatsTUI(viewType string, data any, reload ReloadFunc) error {
	model := NewStatsModel(viewType, data, reload)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderStatsStatic renders stats data without full TUI (for fallback).
func RenderStatsStatic(viewType string, data any) string {
	model := NewStatsModel(viewType, data, nil)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
