package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/playback"
)

// Client reads handle state from a running server. It satisfies
// monitor.Source; failed requests keep the last known snapshot.
type Client struct {
	base string
	http *http.Client
	log  *logging.Logger

	mu     sync.Mutex
	health healthResponse
	list   listResponse
}

// NewClient creates a client for the server at base, e.g. http://localhost:8089.
func NewClient(base string, log *logging.Logger) *Client {
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 5 * time.Second},
		log:  log,
	}
}

// Refresh fetches the health and player list.
func (c *Client) Refresh(ctx context.Context) error {
	var health healthResponse
	if err := c.get(ctx, "/healthz", &health); err != nil {
		return err
	}
	var list listResponse
	if err := c.get(ctx, "/players", &list); err != nil {
		return err
	}

	c.mu.Lock()
	c.health = health
	c.list = list
	c.mu.Unlock()
	return nil
}

func (c *Client) get(ctx context.Context, path string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) refresh() {
	if err := c.Refresh(context.Background()); err != nil {
		c.log.Warnf("refresh failed: %v", err)
	}
}

// Count returns the live handle count.
func (c *Client) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Count
}

// Handles refreshes and returns the handle snapshot.
func (c *Client) Handles() []playback.HandleInfo {
	c.refresh()
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]playback.HandleInfo(nil), c.list.Players...)
}

// ScriptLoaded reports the last known runtime state.
func (c *Client) ScriptLoaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health.ScriptLoaded
}
