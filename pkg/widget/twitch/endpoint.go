package twitch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/multierr"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/widget"
)

const (
	// DefaultScriptURL is the embed runtime.
	DefaultScriptURL = "https://player.twitch.tv/js/embed/v1.js"

	// DefaultHost is the origin pages are served from.
	DefaultHost = "localhost"

	// DefaultTimeout bounds every page operation.
	DefaultTimeout = 30 * time.Second
)

// Options configures an Endpoint.
type Options struct {
	ScriptURL string
	Host      string
	Headless  bool
	Timeout   time.Duration

	// HTTPClient fetches the runtime script; nil uses a client with Timeout.
	HTTPClient *http.Client
}

// DefaultOptions returns headless defaults.
func DefaultOptions() Options {
	return Options{
		ScriptURL: DefaultScriptURL,
		Host:      DefaultHost,
		Headless:  true,
		Timeout:   DefaultTimeout,
	}
}

// Endpoint runs embedded players in a shared Chromium instance, one
// browser context and page per player.
type Endpoint struct {
	opts Options
	log  *logging.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	script  string
	players map[*player]struct{}
	closed  bool
}

var _ widget.Endpoint = (*Endpoint)(nil)

// New creates an endpoint. The browser is started by the first LoadScript.
func New(opts Options, log *logging.Logger) *Endpoint {
	if opts.ScriptURL == "" {
		opts.ScriptURL = DefaultScriptURL
	}
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Endpoint{
		opts:    opts,
		log:     log,
		players: make(map[*player]struct{}),
	}
}

// start installs and runs Playwright and launches Chromium.
func (e *Endpoint) start() error {
	if e.browser != nil {
		return nil
	}

	// Install and run Playwright, discarding output so it does not interfere with the terminal monitor
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if err := playwright.Install(runOpts); err != nil {
		return fmt.Errorf("failed to install playwright: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	// Launch browser
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(e.opts.Headless),
		Args:     []string{"--autoplay-policy=no-user-gesture-required"},
	})
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	e.pw = pw
	e.browser = browser
	e.log.Infof("chromium %s started (headless=%t)", browser.Version(), e.opts.Headless)
	return nil
}

// LoadScript starts the browser if needed and downloads the embed runtime.
func (e *Endpoint) LoadScript(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return errors.New("endpoint closed")
	}
	if err := e.start(); err != nil {
		return err
	}
	if e.script != "" {
		return nil
	}

	// Fetch the runtime once; every page gets it injected
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.opts.ScriptURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build script request: %w", err)
	}
	resp, err := e.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", e.opts.ScriptURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to fetch %s: status %d", e.opts.ScriptURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", e.opts.ScriptURL, err)
	}

	e.script = string(body)
	e.log.Infof("embed runtime loaded from %s (%d bytes)", e.opts.ScriptURL, len(body))
	return nil
}

// shellURL is the address a container's page is served under.
func (e *Endpoint) shellURL(container string) string {
	return fmt.Sprintf("http://%s/players/%s", e.opts.Host, cssIdent(container))
}

// NewPlayer opens a page for container, injects the runtime and constructs
// the widget in it.
func (e *Endpoint) NewPlayer(ctx context.Context, container widget.Container, opts widget.PlayerOptions) (widget.Player, error) {
	e.mu.Lock()
	browser, script, closed := e.browser, e.script, e.closed
	e.mu.Unlock()

	if closed {
		return nil, errors.New("endpoint closed")
	}
	if browser == nil || script == "" {
		return nil, errors.New("embed runtime not loaded")
	}

	// Render the page that hosts the widget
	name := container.Name()
	shell, err := renderShell(name)
	if err != nil {
		return nil, err
	}

	// Create context
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 640, Height: 360},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create context: %w", err)
	}
	// Create page
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	// Set default timeout
	page.SetDefaultTimeout(float64(e.opts.Timeout.Milliseconds()))

	p := newPlayer(name, page, bctx, e.log.Named(name))
	fail := func(err error) (widget.Player, error) {
		_ = p.close()
		return nil, err
	}

	// Serve the shell page from memory
	url := e.shellURL(name)
	err = page.Route(url, func(route playwright.Route) {
		_ = route.Fulfill(playwright.RouteFulfillOptions{
			Status:      playwright.Int(http.StatusOK),
			ContentType: playwright.String("text/html; charset=utf-8"),
			Body:        shell,
		})
	})
	if err != nil {
		return fail(fmt.Errorf("failed to route shell: %w", err))
	}
	// Route widget events back into Go
	if err := page.ExposeFunction(eventBinding, p.onEvent); err != nil {
		return fail(fmt.Errorf("failed to expose event binding: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Navigate and inject the runtime
	if _, err := page.Goto(url); err != nil {
		return fail(fmt.Errorf("navigation failed: %w", err))
	}
	if _, err := page.AddScriptTag(playwright.PageAddScriptTagOptions{Content: playwright.String(script)}); err != nil {
		return fail(fmt.Errorf("failed to inject embed runtime: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	// Construct the player
	result, err := page.Evaluate(createScript, playerConfig(name, opts))
	if err != nil {
		return fail(fmt.Errorf("failed to construct player: %w", err))
	}
	if err := constructionError(result); err != nil {
		return fail(err)
	}

	// Track the player unless Close ran meanwhile
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fail(errors.New("endpoint closed"))
	}
	e.players[p] = struct{}{}
	p.onClose = func() {
		e.mu.Lock()
		delete(e.players, p)
		e.mu.Unlock()
	}
	e.mu.Unlock()

	e.log.Debugf("player %s constructed on channel %s", name, opts.Channel)
	return p, nil
}

// Players returns the number of open player pages.
func (e *Endpoint) Players() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.players)
}

// Close closes every page, the browser and the Playwright driver.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	players := make([]*player, 0, len(e.players))
	for p := range e.players {
		players = append(players, p)
	}
	e.players = make(map[*player]struct{})
	browser, pw := e.browser, e.pw
	e.mu.Unlock()

	// Close pages, then the browser, then the driver
	var err error
	for _, p := range players {
		err = multierr.Append(err, p.close())
	}
	if browser != nil {
		err = multierr.Append(err, browser.Close())
	}
	if pw != nil {
		err = multierr.Append(err, pw.Stop())
	}
	return err
}
