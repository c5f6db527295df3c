package twitch

import (
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/multierr"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/widget"
)

// eventBuffer bounds undelivered events per player; overflow is dropped.
const eventBuffer = 64

// player drives one embedded widget through its page.
type player struct {
	name string
	page playwright.Page
	bctx playwright.BrowserContext
	log  *logging.Logger

	mu      sync.Mutex
	subs    map[widget.EventType]map[int]func(widget.Event)
	nextSub int

	events    chan widget.Event
	closed    bool
	closeOnce sync.Once
	onClose   func()
}

func newPlayer(name string, page playwright.Page, bctx playwright.BrowserContext, log *logging.Logger) *player {
	p := &player{
		name:   name,
		page:   page,
		bctx:   bctx,
		log:    log,
		subs:   make(map[widget.EventType]map[int]func(widget.Event)),
		events: make(chan widget.Event, eventBuffer),
	}
	go p.dispatch()
	return p
}

// onEvent is exposed to the page. It must not call back into the page.
func (p *player) onEvent(args ...interface{}) interface{} {
	ev, ok := parseEvent(args)
	if !ok {
		return nil
	}
	p.enqueue(ev)
	return nil
}

func (p *player) enqueue(ev widget.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.log.Warnf("event buffer full, dropping %s event", ev.Type)
	}
}

// dispatch delivers events in order on a single goroutine.
func (p *player) dispatch() {
	for ev := range p.events {
		p.mu.Lock()
		fns := make([]func(widget.Event), 0, len(p.subs[ev.Type]))
		for _, fn := range p.subs[ev.Type] {
			fns = append(fns, fn)
		}
		p.mu.Unlock()

		for _, fn := range fns {
			fn(ev)
		}
	}
}

func (p *player) call(script string, arg ...interface{}) (interface{}, error) {
	v, err := p.page.Evaluate(script, arg...)
	if err != nil {
		return nil, fmt.Errorf("player %s: %w", p.name, err)
	}
	return v, nil
}

func (p *player) Pause() error {
	_, err := p.call(pauseScript)
	return err
}

func (p *player) SetChannel(name string) error {
	_, err := p.call(setChannelScript, name)
	return err
}

func (p *player) Qualities() ([]string, error) {
	v, err := p.call(qualitiesScript)
	if err != nil {
		return nil, err
	}
	return toStrings(v)
}

func (p *player) Quality() (string, error) {
	v, err := p.call(qualityScript)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *player) SetQuality(id string) error {
	_, err := p.call(setQualityScript, id)
	return err
}

// Destroy tears the widget down and closes its page and context.
func (p *player) Destroy() error {
	_, err := p.call(destroyScript)
	return multierr.Append(err, p.close())
}

func (p *player) Subscribe(t widget.EventType, fn func(widget.Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.subs[t] == nil {
		p.subs[t] = make(map[int]func(widget.Event))
	}
	id := p.nextSub
	p.nextSub++
	p.subs[t][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			delete(p.subs[t], id)
		})
	}
}

// close releases the page and its context. Later calls return nil.
func (p *player) close() error {
	var err error
	p.closeOnce.Do(func() {
		err = multierr.Combine(p.page.Close(), p.bctx.Close())

		p.mu.Lock()
		p.closed = true
		close(p.events)
		p.mu.Unlock()

		if p.onClose != nil {
			p.onClose()
		}
	})
	return err
}
