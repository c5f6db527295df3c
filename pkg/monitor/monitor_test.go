package monitor

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/playback/pkg/playback"
	"github.com/entrhq/playback/pkg/types"
)

type fakeSource struct {
	handles []playback.HandleInfo
	loaded  bool
}

func (f *fakeSource) Count() int                      { return len(f.handles) }
func (f *fakeSource) Handles() []playback.HandleInfo { return f.handles }
func (f *fakeSource) ScriptLoaded() bool              { return f.loaded }

func TestViewRendersHandles(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{
		loaded: true,
		handles: []playback.HandleInfo{
			{ID: "p1", Channel: "alpha", State: "stable", Quality: "160p", LastUsed: now.Add(-90 * time.Second)},
			{ID: "p2", Channel: "beta", State: "recovering", LastUsed: now},
		},
	}
	m := newModel(src, nil, func() time.Time { return now })

	view := m.View()
	assert.Contains(t, view, "2 player(s)")
	assert.Contains(t, view, "runtime loaded")
	assert.Contains(t, view, "alpha")
	assert.Contains(t, view, "recovering")
	assert.Contains(t, view, "1m30s")
	assert.Contains(t, view, "no events yet")
}

func TestTickRefreshesRows(t *testing.T) {
	src := &fakeSource{}
	m := newModel(src, nil, time.Now)
	assert.NotContains(t, m.View(), "gamma")

	src.handles = []playback.HandleInfo{{ID: "p3", Channel: "gamma", State: "stable", LastUsed: time.Now()}}
	_, cmd := m.Update(tickMsg(time.Now()))
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "gamma")
}

func TestEventUpdatesStatusLine(t *testing.T) {
	feed := NewFeed(4)
	m := newModel(&fakeSource{}, feed, time.Now)

	ev := types.NewErrorEvent(types.EventTypeRecoveryExhausted, "p1", "alpha", "pending_recreate", errors.New("reload failed"))
	feed.Emit(ev)

	msg := m.waitForEvent()()
	require.IsType(t, eventMsg{}, msg)

	_, cmd := m.Update(msg)
	assert.NotNil(t, cmd, "the monitor keeps listening")
	view := m.View()
	assert.Contains(t, view, "recovery_exhausted p1")
	assert.Contains(t, view, "reload failed")
	assert.Contains(t, view, "1 failure event(s)")
}

func TestFeedDropsWhenFull(t *testing.T) {
	feed := NewFeed(1)
	feed.Emit(types.NewEvent(types.EventTypeHandleCreated, "a", "alpha", "stable"))
	feed.Emit(types.NewEvent(types.EventTypeHandleCreated, "b", "alpha", "stable"))

	assert.Len(t, feed.events, 1)
}

func TestQuitKey(t *testing.T) {
	m := newModel(&fakeSource{}, nil, time.Now)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	assert.Nil(t, cmd)
}
