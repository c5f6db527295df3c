package twitch

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/entrhq/playback/pkg/widget"
)

// eventBinding is the page function events are forwarded through.
const eventBinding = "__playbackEvent"

var shellTemplate = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>html,body,#{{.Container}}{margin:0;width:100%;height:100%;background:#000}</style>
</head>
<body>
<div id="{{.Container}}"></div>
<script>
window.addEventListener('online', function () { window.{{.Binding}}('online', '', 0); });
window.addEventListener('offline', function () { window.{{.Binding}}('offline', '', 0); });
</script>
</body>
</html>
`))

// renderShell returns the page a player is mounted in.
func renderShell(container string) (string, error) {
	var buf bytes.Buffer
	err := shellTemplate.Execute(&buf, struct {
		Title     string
		Container template.CSS
		Binding   template.JS
	}{
		Title:     "playback " + container,
		Container: template.CSS(cssIdent(container)),
		Binding:   template.JS(eventBinding),
	})
	if err != nil {
		return "", fmt.Errorf("failed to render shell: %w", err)
	}
	return buf.String(), nil
}

// cssIdent keeps the characters that are safe in an element id selector.
func cssIdent(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

// createScript constructs the widget and wires its events to the binding.
// It resolves to null on success and to {message, code} on failure.
const createScript = `(cfg) => {
  try {
    const player = new window.Twitch.Player(cfg.container, cfg.options);
    window.__player = player;
    const forward = (type) => (e) => {
      const message = e && (e.message || e.error || (typeof e === 'string' ? e : '')) || '';
      const code = (e && (e.code || e.errorCode)) || 0;
      window.` + eventBinding + `(type, String(message), Number(code) || 0);
    };
    player.addEventListener(window.Twitch.Player.READY || 'ready', forward('ready'));
    player.addEventListener('error', forward('error'));
    player.addEventListener('internal-error', forward('internal-error'));
    return null;
  } catch (e) {
    return { message: String((e && e.message) || e), code: (e && e.code) || 0 };
  }
}`

const (
	pauseScript      = `() => window.__player.pause()`
	setChannelScript = `(name) => window.__player.setChannel(name)`
	qualitiesScript  = `() => (window.__player.getQualities() || []).map((q) => q.group === 'auto' ? 'auto' : q.name)`
	qualityScript    = `() => window.__player.getQuality()`
	setQualityScript = `(id) => window.__player.setQuality(id)`
	destroyScript    = `() => { if (window.__player && window.__player.destroy) { window.__player.destroy(); } window.__player = null; }`
)

// playerConfig is the argument of createScript.
func playerConfig(container string, opts widget.PlayerOptions) map[string]interface{} {
	options := map[string]interface{}{
		"channel":  opts.Channel,
		"autoplay": opts.Autoplay,
		"muted":    opts.Muted,
		"parent":   opts.Parents,
		"width":    "100%",
		"height":   "100%",
	}
	if opts.Quality != "" {
		options["quality"] = opts.Quality
	}
	return map[string]interface{}{
		"container": cssIdent(container),
		"options":   options,
	}
}

// constructionError converts the result of createScript.
func constructionError(result interface{}) error {
	obj, ok := result.(map[string]interface{})
	if !ok {
		return nil
	}
	msg, _ := obj["message"].(string)
	return &widget.StreamError{Message: msg, Code: toInt(obj["code"])}
}

// parseEvent converts the arguments of an event binding call.
func parseEvent(args []interface{}) (widget.Event, bool) {
	if len(args) == 0 {
		return widget.Event{}, false
	}
	kind, ok := args[0].(string)
	if !ok || kind == "" {
		return widget.Event{}, false
	}
	ev := widget.Event{Type: widget.EventType(kind)}
	if len(args) > 1 {
		ev.Message, _ = args[1].(string)
	}
	if len(args) > 2 {
		ev.Code = toInt(args[2])
	}
	return ev, true
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toStrings(v interface{}) ([]string, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected qualities result %T", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected quality %T", item)
		}
		out = append(out, s)
	}
	return out, nil
}
