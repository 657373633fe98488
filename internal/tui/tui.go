// Package tui renders the live download status in the terminal. All render
// state is owned by the bubbletea update loop; workers only publish events.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/italolelis/auto_ytdlp/internal/downloader/progress"
	"github.com/italolelis/auto_ytdlp/internal/events"
	"github.com/italolelis/auto_ytdlp/internal/task"
)

const maxLogLines = 500

// Session is the download session driven by the keys.
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	Summary() task.Stats
}

type eventMsg events.Event

type busClosedMsg struct{}

type startedMsg struct{ err error }

type stoppedMsg struct{ err error }

type model struct {
	ctx     context.Context
	session Session
	events  <-chan events.Event

	tasks    map[string]task.Task
	order    []string
	progress map[string]progress.Sample
	rotation string

	logs     []string
	viewport viewport.Model

	keys     keyMap
	help     help.Model
	showHelp bool

	status   string
	stopping bool
	quitting bool
	width    int
	height   int
}

func newModel(ctx context.Context, session Session, ch <-chan events.Event) model {
	return model{
		ctx:      ctx,
		session:  session,
		events:   ch,
		tasks:    make(map[string]task.Task),
		progress: make(map[string]progress.Sample),
		viewport: viewport.New(80, 8),
		keys:     defaultKeyMap(),
		help:     help.New(),
		status:   "press s to start",
	}
}

// Run shows the TUI until the user quits. Bus events are consumed through
// a dedicated subscription.
func Run(ctx context.Context, session Session, bus *events.Bus) error {
	sub := bus.Subscribe("tui", events.Options{
		ProgressBuffer: events.DefaultProgressBuffer,
		LogBuffer:      events.DefaultLogBuffer,
	})
	defer sub.Close()

	p := tea.NewProgram(newModel(ctx, session, sub.C()), tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run terminal ui: %w", err)
	}

	return nil
}

func (m model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return busClosedMsg{}
		}

		return eventMsg(e)
	}
}

func (m model) startCmd() tea.Cmd {
	return func() tea.Msg {
		return startedMsg{err: m.session.Start(m.ctx)}
	}
}

func (m model) stopCmd() tea.Cmd {
	return func() tea.Msg {
		return stoppedMsg{err: m.session.Stop(m.ctx)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resizeViewport()

		return m, nil
	case eventMsg:
		m.apply(events.Event(msg))

		return m, waitForEvent(m.events)
	case busClosedMsg:
		return m, nil
	case startedMsg:
		if msg.err != nil {
			m.status = "start failed: " + msg.err.Error()
		} else {
			m.status = "downloading"
		}

		return m, nil
	case stoppedMsg:
		m.stopping = false

		if msg.err != nil {
			m.status = "stop failed: " + msg.err.Error()
		} else {
			m.status = "stopped"
		}

		if m.quitting {
			return m, tea.Quit
		}

		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.quitting {
			return m, tea.Quit
		}

		m.quitting = true

		if m.session.Running() {
			m.status = "stopping downloads before quitting..."
			m.stopping = true

			return m, m.stopCmd()
		}

		return m, tea.Quit
	case key.Matches(msg, m.keys.Start):
		if m.session.Running() {
			m.status = "downloads are already running"

			return m, nil
		}

		m.status = "starting..."

		return m, m.startCmd()
	case key.Matches(msg, m.keys.Stop):
		if !m.session.Running() || m.stopping {
			return m, nil
		}

		m.status = "stopping..."
		m.stopping = true

		return m, m.stopCmd()
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp
		m.resizeViewport()

		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)

	return m, cmd
}

// apply folds a bus event into the render state.
func (m *model) apply(e events.Event) {
	switch e.Kind {
	case events.KindStatus:
		t := e.Task
		if _, ok := m.tasks[t.ID]; !ok {
			m.order = append(m.order, t.ID)
		}

		m.tasks[t.ID] = t

		if t.Status.IsTerminal() {
			delete(m.progress, t.ID)
		}
	case events.KindProgress:
		if t, ok := m.tasks[e.Progress.TaskID]; ok && t.Status == task.StatusDownloading {
			m.progress[e.Progress.TaskID] = e.Progress
		}
	case events.KindLog:
		m.appendLog(formatLog(e))
	case events.KindRotation:
		m.rotation = formatRotation(e.Rotation)
	}
}

func (m *model) appendLog(line string) {
	atBottom := m.viewport.AtBottom()

	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}

	m.viewport.SetContent(joinLines(m.logs))

	if atBottom {
		m.viewport.GotoBottom()
	}
}
