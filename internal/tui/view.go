package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/italolelis/auto_ytdlp/internal/downloader/progress"
	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/task"
)

const (
	defaultWidth  = 100
	defaultHeight = 30
	barWidth      = 20
	chromeHeight  = 8
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headingStyle = lipgloss.NewStyle().Bold(true)
)

func (m model) size() (int, int) {
	w, h := m.width, m.height
	if w <= 0 {
		w = defaultWidth
	}

	if h <= 0 {
		h = defaultHeight
	}

	return w, h
}

// paneHeights splits the free rows between the downloads and log panes.
func (m model) paneHeights() (downloads, logs int) {
	_, h := m.size()

	free := h - chromeHeight
	if m.showHelp {
		free -= 2
	}

	free = max(free, 6)
	downloads = max(free*3/5, 3)
	logs = max(free-downloads, 3)

	return downloads, logs
}

func (m *model) resizeViewport() {
	w, _ := m.size()
	_, logs := m.paneHeights()

	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = logs
}

func (m model) View() string {
	w, _ := m.size()
	downloadRows, _ := m.paneHeights()

	header := titleStyle.Render("auto_ytdlp") + "  " + mutedStyle.Render(m.status)

	downloads := panelStyle.Width(w - 2).Render(
		headingStyle.Render("Downloads") + "\n" + m.renderTasks(downloadRows, w-6))

	logs := panelStyle.Width(w - 2).Render(
		headingStyle.Render("Output") + "\n" + m.viewport.View())

	return lipgloss.JoinVertical(lipgloss.Left, header, downloads, logs, m.renderFooter(), m.help.View(m.keys))
}

// renderTasks shows active downloads first, then the most recent other tasks.
func (m model) renderTasks(rows, width int) string {
	if len(m.order) == 0 {
		return mutedStyle.Render("no downloads yet")
	}

	var active, rest []task.Task

	for _, id := range m.order {
		t := m.tasks[id]
		if t.Status == task.StatusDownloading {
			active = append(active, t)
		} else {
			rest = append(rest, t)
		}
	}

	lines := make([]string, 0, rows)

	for _, t := range active {
		if len(lines) == rows {
			break
		}

		lines = append(lines, m.renderTask(t, width))
	}

	for i := len(rest) - 1; i >= 0 && len(lines) < rows; i-- {
		lines = append(lines, m.renderTask(rest[i], width))
	}

	return strings.Join(lines, "\n")
}

func (m model) renderTask(t task.Task, width int) string {
	label := statusLabel(t.Status)
	name := truncate(t.DisplayName(), max(width-barWidth-40, 20))

	switch t.Status {
	case task.StatusDownloading:
		s, ok := m.progress[t.ID]
		if !ok {
			return fmt.Sprintf("%s %s %s", label, name, mutedStyle.Render("resolving..."))
		}

		return fmt.Sprintf("%s %s %s", label, name, renderProgress(s))
	case task.StatusError:
		return fmt.Sprintf("%s %s %s", label, name, errorStyle.Render(truncate(t.ErrorDetail, 60)))
	case task.StatusCompleted, task.StatusCancelled, task.StatusSkipped:
		return fmt.Sprintf("%s %s %s", label, name, mutedStyle.Render(t.Duration().Round(time.Second).String()))
	case task.StatusQueued:
	}

	return fmt.Sprintf("%s %s", label, name)
}

func renderProgress(s progress.Sample) string {
	filled := int(s.Percent / 100 * barWidth)
	filled = min(max(filled, 0), barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	parts := []string{activeStyle.Render(bar), fmt.Sprintf("%5.1f%%", s.Percent)}

	if s.Speed > 0 {
		parts = append(parts, humanize.Bytes(uint64(s.Speed))+"/s")
	}

	if s.ETA > 0 {
		parts = append(parts, "ETA "+s.ETA.Round(time.Second).String())
	}

	return strings.Join(parts, " ")
}

func statusLabel(s task.Status) string {
	label := fmt.Sprintf("%-11s", s.String())

	switch s {
	case task.StatusCompleted:
		return okStyle.Render(label)
	case task.StatusError:
		return errorStyle.Render(label)
	case task.StatusDownloading:
		return activeStyle.Render(label)
	case task.StatusCancelled, task.StatusSkipped:
		return warnStyle.Render(label)
	case task.StatusQueued:
	}

	return mutedStyle.Render(label)
}

func (m model) renderFooter() string {
	s := m.session.Summary()

	footer := fmt.Sprintf("queued %d | downloading %d | completed %d | skipped %d | error %d | cancelled %d",
		s.Queued, s.Downloading, s.Completed, s.Skipped, s.Error, s.Cancelled)

	if m.rotation != "" {
		footer += " | vpn " + m.rotation
	}

	return mutedStyle.Render(footer)
}

func formatLog(e events.Event) string {
	line := e.Time.Format("15:04:05") + " " + levelLabel(e.Log.Level) + " " + e.Log.Message
	if e.Log.Attrs != "" {
		line += " " + mutedStyle.Render(e.Log.Attrs)
	}

	return line
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return errorStyle.Render("ERR")
	case level >= slog.LevelWarn:
		return warnStyle.Render("WRN")
	case level >= slog.LevelInfo:
		return okStyle.Render("INF")
	default:
		return mutedStyle.Render("DBG")
	}
}

func formatRotation(r events.Rotation) string {
	switch r.Phase {
	case events.RotationStarted:
		return "rotating (" + r.Reason + ")"
	case events.RotationSucceeded:
		return "rotated (" + r.Reason + ")"
	case events.RotationFailed:
		return "rotation failed: " + r.Error
	}

	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	if n <= 1 {
		return string(r[:n])
	}

	return string(r[:n-1]) + "…"
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
