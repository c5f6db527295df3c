package twitch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/playback/pkg/widget"
)

func TestRenderShell(t *testing.T) {
	html, err := renderShell("player-1")
	require.NoError(t, err)

	assert.Contains(t, html, `<div id="player-1"></div>`)
	assert.Contains(t, html, "#player-1{")
	assert.Contains(t, html, "window.__playbackEvent('online'")
	assert.Contains(t, html, "window.__playbackEvent('offline'")
}

func TestRenderShellSanitizesContainer(t *testing.T) {
	html, err := renderShell(`x"><script>alert(1)</script>`)
	require.NoError(t, err)

	assert.NotContains(t, html, "<script>alert")
	assert.Contains(t, html, `id="x___script_alert_1___script_"`)
}

func TestCSSIdent(t *testing.T) {
	assert.Equal(t, "abc-DEF_123", cssIdent("abc-DEF_123"))
	assert.Equal(t, "a_b_c", cssIdent("a b.c"))
}

func TestPlayerConfig(t *testing.T) {
	cfg := playerConfig("p1", widget.PlayerOptions{
		Channel:  "alpha",
		Quality:  "160p",
		Autoplay: true,
		Muted:    true,
		Parents:  []string{"localhost"},
	})

	assert.Equal(t, "p1", cfg["container"])
	opts := cfg["options"].(map[string]interface{})
	assert.Equal(t, "alpha", opts["channel"])
	assert.Equal(t, "160p", opts["quality"])
	assert.Equal(t, true, opts["autoplay"])
	assert.Equal(t, true, opts["muted"])
	assert.Equal(t, []string{"localhost"}, opts["parent"])

	cfg = playerConfig("p1", widget.PlayerOptions{Channel: "alpha"})
	_, ok := cfg["options"].(map[string]interface{})["quality"]
	assert.False(t, ok, "empty quality lets the widget choose")
}

func TestConstructionError(t *testing.T) {
	assert.NoError(t, constructionError(nil))

	err := constructionError(map[string]interface{}{"message": "HLS playlist unavailable", "code": float64(4000)})
	var se *widget.StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 4000, se.Code)
	assert.Equal(t, "HLS playlist unavailable", se.Message)
}

func TestParseEvent(t *testing.T) {
	ev, ok := parseEvent([]interface{}{"error", "manifest 404", float64(4000)})
	require.True(t, ok)
	assert.Equal(t, widget.Event{Type: widget.EventError, Message: "manifest 404", Code: 4000}, ev)

	ev, ok = parseEvent([]interface{}{"online"})
	require.True(t, ok)
	assert.Equal(t, widget.EventOnline, ev.Type)

	_, ok = parseEvent(nil)
	assert.False(t, ok)
	_, ok = parseEvent([]interface{}{42})
	assert.False(t, ok)
}

func TestToStrings(t *testing.T) {
	got, err := toStrings([]interface{}{"auto", "160p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"auto", "160p"}, got)

	got, err = toStrings(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = toStrings("160p")
	assert.Error(t, err)
	_, err = toStrings([]interface{}{1})
	assert.Error(t, err)
}

func TestShellURL(t *testing.T) {
	ep := New(Options{Host: "hetri-courses.github.io"}, nil)
	assert.Equal(t, "http://hetri-courses.github.io/players/p_1", ep.shellURL("p 1"))
	assert.True(t, strings.HasPrefix(ep.opts.ScriptURL, "https://"))
	assert.Equal(t, 0, ep.Players())
	assert.NoError(t, ep.Close())
}
