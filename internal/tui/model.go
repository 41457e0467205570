// Package tui is the terminal view of one analysis session: a progress
// screen while the pipeline runs, then the annotated record.
package tui

import (
	"context"
	"errors"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgallion1/recordlens/internal/annotate"
	"github.com/dgallion1/recordlens/internal/client"
	"github.com/dgallion1/recordlens/internal/poller"
	"github.com/dgallion1/recordlens/internal/record"
	"github.com/dgallion1/recordlens/internal/summary"
)

// Backend is the server surface the view needs.
type Backend interface {
	poller.Source
	Retry(ctx context.Context, sessionID string) (client.Submission, error)
}

type statusMsg struct{ status record.Status }

type resultMsg struct{ result record.AnalysisResult }

type errMsg struct{ err error }

type retriedMsg struct {
	sub client.Submission
	err error
}

// Model follows one session. Polling stops when the session finishes or
// the model quits.
type Model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	backend Backend
	poller  *poller.Poller
	handle  *poller.Handle
	msgs    chan tea.Msg

	sessionID string
	status    record.Status
	err       error

	spinner  spinner.Model
	progress progress.Model

	result   *record.AnalysisResult
	summary  summary.Summary
	filter   record.CategorySet
	section  int
	sections []annotate.SectionRender

	width    int
	retrying bool
	quitting bool
}

// New creates the view for sessionID with its initial status.
func New(ctx context.Context, backend Backend, p *poller.Poller, sessionID string, initial record.Status) *Model {
	ctx, cancel := context.WithCancel(ctx)
	return &Model{
		ctx:       ctx,
		cancel:    cancel,
		backend:   backend,
		poller:    p,
		msgs:      make(chan tea.Msg, 16),
		sessionID: sessionID,
		status:    initial,
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(accentStyle)),
		progress:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(48)),
		filter:    record.AllCategories(),
		width:     80,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startPolling())
}

// startPolling attaches a poller handle whose callbacks feed m.msgs.
func (m *Model) startPolling() tea.Cmd {
	if m.handle != nil {
		m.handle.Cancel()
	}
	send := func(msg tea.Msg) {
		select {
		case m.msgs <- msg:
		case <-m.ctx.Done():
		}
	}
	m.handle = m.poller.Start(m.ctx, m.sessionID, poller.Handlers{
		OnStatus: func(st record.Status) { send(statusMsg{st}) },
		OnResult: func(res record.AnalysisResult) { send(resultMsg{res}) },
		OnError:  func(err error) { send(errMsg{err}) },
	})
	return m.waitForMsg()
}

func (m *Model) waitForMsg() tea.Cmd {
	msgs, done := m.msgs, m.ctx.Done()
	return func() tea.Msg {
		select {
		case msg := <-msgs:
			return msg
		case <-done:
			return nil
		}
	}
}

func (m *Model) stop() {
	m.quitting = true
	if m.handle != nil {
		m.handle.Cancel()
	}
	m.cancel()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(10, min(msg.Width-8, 60))
		return m, nil

	case statusMsg:
		m.status = msg.status
		return m, m.waitForMsg()

	case resultMsg:
		res := msg.result
		m.result = &res
		m.status = res.Status
		m.summary = summary.Reduce(res)
		m.render()
		return m, nil

	case errMsg:
		var failed *poller.StageFailedError
		if !errors.As(msg.err, &failed) {
			m.err = msg.err
		}
		return m, nil

	case retriedMsg:
		m.retrying = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.status = msg.sub.Status
		return m, m.startPolling()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.stop()
		return m, tea.Quit
	case "r":
		if m.status.Stage == record.StageError && !m.retrying {
			return m, m.retry()
		}
	case "tab", "right":
		if len(m.sections) > 0 {
			m.section = (m.section + 1) % len(m.sections)
		}
	case "shift+tab", "left":
		if len(m.sections) > 0 {
			m.section = (m.section + len(m.sections) - 1) % len(m.sections)
		}
	case "1", "2", "3", "4", "5":
		i := int(msg.String()[0] - '1')
		m.filter = m.filter.Toggle(record.Categories[i])
		m.render()
	case "a":
		m.filter = record.AllCategories()
		m.render()
	case "n":
		m.filter = record.CategorySet{}
		m.render()
	}
	return m, nil
}

func (m *Model) retry() tea.Cmd {
	backend, ctx, sid := m.backend, m.ctx, m.sessionID
	m.retrying = true
	return func() tea.Msg {
		sub, err := backend.Retry(ctx, sid)
		return retriedMsg{sub: sub, err: err}
	}
}

// render recomputes the section render models from the result and filter.
func (m *Model) render() {
	if m.result == nil {
		return
	}
	var sections record.TextSections
	if m.result.TextSections != nil {
		sections = *m.result.TextSections
	}
	m.sections = annotate.RenderSections(sections, m.result.ValidationAnalysis, m.filter)
	if m.section >= len(m.sections) {
		m.section = 0
	}
}

// Status returns the last status shown.
func (m *Model) Status() record.Status {
	return m.status
}
