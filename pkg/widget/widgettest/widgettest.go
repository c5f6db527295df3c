// Package widgettest provides a scriptable in-memory widget endpoint for
// exercising code that manages native players.
package widgettest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/playback/pkg/widget"
)

// Construction records a single NewPlayer call.
type Construction struct {
	Container string
	Options   widget.PlayerOptions
	Err       error
}

// Endpoint is a fake widget.Endpoint. Errors queued with FailLoad and
// FailConstruct are consumed one per call; once the queue is empty calls
// succeed.
type Endpoint struct {
	mu sync.Mutex

	loadErrs      []error
	constructErrs []error
	loadDelay     time.Duration
	buildDelay    time.Duration
	qualities     []string

	loads         int
	constructions []Construction
	players       []*Player

	inflight    map[string]int
	maxInflight map[string]int
}

// NewEndpoint creates an endpoint whose players offer a typical quality ladder.
func NewEndpoint() *Endpoint {
	return &Endpoint{
		qualities:   []string{widget.QualityAuto, "1080p60", "720p60", "480p30", "360p30", "160p30"},
		inflight:    make(map[string]int),
		maxInflight: make(map[string]int),
	}
}

// FailLoad queues errors for the next LoadScript calls.
func (e *Endpoint) FailLoad(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadErrs = append(e.loadErrs, errs...)
}

// FailConstruct queues errors for the next NewPlayer calls.
func (e *Endpoint) FailConstruct(errs ...error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.constructErrs = append(e.constructErrs, errs...)
}

// SetDelays makes LoadScript and NewPlayer block for the given durations.
func (e *Endpoint) SetDelays(load, construct time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadDelay = load
	e.buildDelay = construct
}

// SetQualities sets the quality ladder offered by players created afterwards.
func (e *Endpoint) SetQualities(qualities ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.qualities = qualities
}

// LoadScript implements widget.Endpoint.
func (e *Endpoint) LoadScript(ctx context.Context) error {
	e.mu.Lock()
	e.loads++
	delay := e.loadDelay
	var err error
	if len(e.loadErrs) > 0 {
		err, e.loadErrs = e.loadErrs[0], e.loadErrs[1:]
	}
	e.mu.Unlock()

	if err := sleep(ctx, delay); err != nil {
		return err
	}
	return err
}

// NewPlayer implements widget.Endpoint.
func (e *Endpoint) NewPlayer(ctx context.Context, container widget.Container, opts widget.PlayerOptions) (widget.Player, error) {
	name := container.Name()

	e.mu.Lock()
	e.inflight[name]++
	if e.inflight[name] > e.maxInflight[name] {
		e.maxInflight[name] = e.inflight[name]
	}
	delay := e.buildDelay
	e.mu.Unlock()

	sleepErr := sleep(ctx, delay)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.inflight[name]--

	var err error
	if sleepErr != nil {
		err = sleepErr
	} else if len(e.constructErrs) > 0 {
		err, e.constructErrs = e.constructErrs[0], e.constructErrs[1:]
	}
	e.constructions = append(e.constructions, Construction{Container: name, Options: opts, Err: err})
	if err != nil {
		return nil, err
	}

	p := newPlayer(name, opts, e.qualities)
	e.players = append(e.players, p)
	return p, nil
}

// LoadCount returns how many times LoadScript ran.
func (e *Endpoint) LoadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads
}

// Constructions returns every NewPlayer call in order.
func (e *Endpoint) Constructions() []Construction {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Construction(nil), e.constructions...)
}

// Players returns every successfully constructed player in order.
func (e *Endpoint) Players() []*Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Player(nil), e.players...)
}

// LastPlayer returns the most recently constructed player, or nil.
func (e *Endpoint) LastPlayer() *Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.players) == 0 {
		return nil
	}
	return e.players[len(e.players)-1]
}

// MaxConcurrent returns the highest number of NewPlayer calls observed in
// flight at once for a container.
func (e *Endpoint) MaxConcurrent(container string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxInflight[container]
}

// Player is a fake widget.Player that records every call.
type Player struct {
	mu sync.Mutex

	container string
	options   widget.PlayerOptions
	channel   string
	quality   string
	qualities []string
	destroyed bool
	calls     []string

	pauseErr      error
	setChannelErr error
	destroyErr    error
	qualityErr    error

	nextSub int
	subs    map[widget.EventType]map[int]func(widget.Event)
}

func newPlayer(container string, opts widget.PlayerOptions, qualities []string) *Player {
	quality := opts.Quality
	if quality == "" {
		quality = widget.QualityAuto
	}
	return &Player{
		container: container,
		options:   opts,
		channel:   opts.Channel,
		quality:   quality,
		qualities: append([]string(nil), qualities...),
		subs:      make(map[widget.EventType]map[int]func(widget.Event)),
	}
}

func (p *Player) record(call string) {
	p.calls = append(p.calls, call)
}

// Pause implements widget.Player.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("pause")
	return p.pauseErr
}

// SetChannel implements widget.Player.
func (p *Player) SetChannel(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setChannel:" + name)
	if p.setChannelErr != nil {
		return p.setChannelErr
	}
	p.channel = name
	return nil
}

// Qualities implements widget.Player.
func (p *Player) Qualities() ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.qualityErr != nil {
		return nil, p.qualityErr
	}
	return append([]string(nil), p.qualities...), nil
}

// Quality implements widget.Player.
func (p *Player) Quality() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.qualityErr != nil {
		return "", p.qualityErr
	}
	return p.quality, nil
}

// SetQuality implements widget.Player.
func (p *Player) SetQuality(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setQuality:" + id)
	if p.qualityErr != nil {
		return p.qualityErr
	}
	p.quality = id
	return nil
}

// Destroy implements widget.Player.
func (p *Player) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("destroy")
	p.destroyed = true
	return p.destroyErr
}

// Subscribe implements widget.Player.
func (p *Player) Subscribe(t widget.EventType, fn func(widget.Event)) func() {
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

// Emit delivers ev to every current subscriber on the calling goroutine.
func (p *Player) Emit(ev widget.Event) {
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

// Subscribers returns the number of live subscriptions for t.
func (p *Player) Subscribers(t widget.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[t])
}

// FailPause makes Pause return err.
func (p *Player) FailPause(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauseErr = err
}

// FailSetChannel makes SetChannel return err.
func (p *Player) FailSetChannel(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setChannelErr = err
}

// FailDestroy makes Destroy return err.
func (p *Player) FailDestroy(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyErr = err
}

// FailQuality makes the quality methods return err.
func (p *Player) FailQuality(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.qualityErr = err
}

// SetCurrentQuality changes the quality the player reports, as the widget
// does when it adapts on its own.
func (p *Player) SetCurrentQuality(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quality = id
}

// Container returns the container name the player was bound to.
func (p *Player) Container() string {
	return p.container
}

// Options returns the options the player was constructed with.
func (p *Player) Options() widget.PlayerOptions {
	return p.options
}

// Channel returns the channel currently loaded.
func (p *Player) Channel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// Destroyed reports whether Destroy was called.
func (p *Player) Destroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

// Calls returns the recorded method calls in order.
func (p *Player) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// CountCalls returns how many recorded calls start with prefix.
func (p *Player) CountCalls(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
