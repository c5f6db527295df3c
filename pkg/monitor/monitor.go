package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/entrhq/playback/pkg/playback"
	"github.com/entrhq/playback/pkg/types"
)

const refreshInterval = time.Second

// Source is the read side of a playback controller.
type Source interface {
	Count() int
	Handles() []playback.HandleInfo
	ScriptLoaded() bool
}

// Feed buffers lifecycle events for the monitor. Emit never blocks; events
// arriving while the buffer is full are dropped.
type Feed struct {
	events chan *types.Event
}

// NewFeed creates a feed holding up to size undelivered events.
func NewFeed(size int) *Feed {
	return &Feed{events: make(chan *types.Event, size)}
}

// Emit implements types.EventEmitter.
func (f *Feed) Emit(ev *types.Event) {
	select {
	case f.events <- ev:
	default:
	}
}

type tickMsg time.Time

type eventMsg struct {
	event *types.Event
}

type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

type model struct {
	source Source
	feed   <-chan *types.Event
	now    func() time.Time

	table    table.Model
	last     *types.Event
	failures int
}

// New creates the monitor model.
func New(source Source, feed *Feed) tea.Model {
	return newModel(source, feed, time.Now)
}

func newModel(source Source, feed *Feed, now func() time.Time) *model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 38},
			{Title: "Channel", Width: 20},
			{Title: "State", Width: 16},
			{Title: "Quality", Width: 9},
			{Title: "Idle", Width: 8},
		}),
		table.WithHeight(12),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Foreground(salmonPink).Bold(true)
	t.SetStyles(styles)

	m := &model{source: source, now: now, table: t}
	if feed != nil {
		m.feed = feed.events
	}
	m.refresh()
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitForEvent())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *model) waitForEvent() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	feed := m.feed
	return func() tea.Msg {
		ev, ok := <-feed
		if !ok {
			return nil
		}
		return eventMsg{event: ev}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width - 2)
	case tickMsg:
		m.refresh()
		return m, tick()
	case eventMsg:
		m.last = msg.event
		if msg.event.IsFailure() {
			m.failures++
		}
		m.refresh()
		return m, m.waitForEvent()
	}
	return m, nil
}

func (m *model) refresh() {
	now := m.now()
	infos := m.source.Handles()
	rows := make([]table.Row, 0, len(infos))
	for _, info := range infos {
		rows = append(rows, table.Row{
			info.ID,
			info.Channel,
			info.State,
			info.Quality,
			idle(now, info.LastUsed),
		})
	}
	m.table.SetRows(rows)
}

func idle(now, lastUsed time.Time) string {
	d := now.Sub(lastUsed)
	if d < 0 {
		d = 0
	}
	return d.Truncate(time.Second).String()
}

func (m *model) View() string {
	var b strings.Builder

	script := "pending"
	if m.source.ScriptLoaded() {
		script = "loaded"
	}
	b.WriteString(headerStyle.Render(fmt.Sprintf("playback · %d player(s) · runtime %s", m.source.Count(), script)))
	b.WriteString("\n")
	b.WriteString(tableStyle.Render(m.table.View()))
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(keys.Quit.Help().Key + " " + keys.Quit.Help().Desc))
	return b.String()
}

func (m *model) statusLine() string {
	if m.last == nil {
		return statusBarStyle.Render("no events yet")
	}
	ev := m.last
	line := fmt.Sprintf("%s %s %s", ev.Time.Format("15:04:05"), ev.Type, ev.HandleID)
	if ev.State != "" {
		line += " " + stateStyle(ev.State).Render(ev.State)
	}
	if ev.Error != nil {
		line += ": " + ev.Error.Error()
	}
	if m.failures > 0 {
		line += failureStyle.Render(fmt.Sprintf("  (%d failure event(s))", m.failures))
	}
	if ev.IsFailure() {
		return failureStyle.Render(line)
	}
	return eventStyle.Render(line)
}

// Run shows the monitor until the user quits or ctx ends.
func Run(ctx context.Context, source Source, feed *Feed) error {
	p := tea.NewProgram(New(source, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err == tea.ErrProgramKilled && ctx.Err() != nil {
		return nil
	}
	return err
}
