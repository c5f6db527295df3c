package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/playback"
	"github.com/entrhq/playback/pkg/widget"
	"github.com/entrhq/playback/pkg/widget/widgettest"
)

func newTestServer(t *testing.T, mutate func(*playback.Options)) (*Server, *playback.Controller, *widgettest.Endpoint) {
	t.Helper()
	opts := playback.Options{
		Retry:   playback.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		Parents: []string{"localhost"},
	}
	if mutate != nil {
		mutate(&opts)
	}
	ep := widgettest.NewEndpoint()
	c, err := playback.New(opts, ep, logging.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return New(c, logging.Nop()), c, ep
}

func do(s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, r)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rec := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestPutCreatesPlayer(t *testing.T) {
	s, c, ep := newTestServer(t, nil)

	rec := do(s, http.MethodPut, "/players/p1", `{"channel":"alpha","quality":"160p"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info playback.HandleInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "p1", info.ID)
	assert.Equal(t, "alpha", info.Channel)
	assert.Equal(t, "stable", info.State)
	assert.Equal(t, 1, c.Count())

	cons := ep.Constructions()
	require.Len(t, cons, 1)
	assert.Equal(t, "p1", cons[0].Container)
	assert.True(t, cons[0].Options.Autoplay)
	assert.True(t, cons[0].Options.Muted)
}

func TestPostGeneratesID(t *testing.T) {
	s, c, _ := newTestServer(t, nil)

	rec := do(s, http.MethodPost, "/players", `{"channel":"alpha","muted":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var info playback.HandleInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.NotEmpty(t, info.ID)

	_, err := c.Lookup(info.ID)
	assert.NoError(t, err)
}

func TestCreateValidatesBody(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPut, "/players/p1", `not json`).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPut, "/players/p1", `{}`).Code)
}

func TestConstructionFailureMapsTo502(t *testing.T) {
	s, c, ep := newTestServer(t, nil)
	ep.FailConstruct(
		&widget.StreamError{Message: "manifest missing"},
		&widget.StreamError{Message: "HLS", Code: 4000},
	)

	rec := do(s, http.MethodPut, "/players/p1", `{"channel":"alpha"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "stream_format", body.Kind)
	assert.Equal(t, 0, c.Count())

	ep.FailConstruct(errors.New("timeout"), errors.New("timeout"))
	rec = do(s, http.MethodPut, "/players/p1", `{"channel":"alpha"}`)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "infrastructure", body.Kind)
}

func TestCapacityMapsTo503(t *testing.T) {
	s, _, _ := newTestServer(t, func(o *playback.Options) { o.MaxHandles = 1 })

	require.Equal(t, http.StatusCreated, do(s, http.MethodPut, "/players/p1", `{"channel":"alpha"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodPut, "/players/p2", `{"channel":"beta"}`).Code)
}

func TestListGetTouchDelete(t *testing.T) {
	s, c, ep := newTestServer(t, nil)

	for _, id := range []string{"b", "a"} {
		require.Equal(t, http.StatusCreated, do(s, http.MethodPut, "/players/"+id, `{"channel":"alpha"}`).Code)
	}

	rec := do(s, http.MethodGet, "/players", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Players, 2)
	assert.Equal(t, "a", list.Players[0].ID)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/players/a", "").Code)
	assert.Equal(t, http.StatusNotFound, do(s, http.MethodGet, "/players/zzz", "").Code)

	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPost, "/players/a/touch", "").Code)
	assert.Equal(t, http.StatusNoContent, do(s, http.MethodPost, "/players/zzz/touch", "").Code)

	ep.LastPlayer().FailDestroy(errors.New("gone"))
	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/players/a", "").Code)
	assert.Equal(t, http.StatusNoContent, do(s, http.MethodDelete, "/players/a", "").Code)
	assert.Equal(t, 1, c.Count())
}

func TestRequestLoggerSkipsHealth(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithWriter("server", &buf)

	ep := widgettest.NewEndpoint()
	c, err := playback.New(playback.Options{Retry: playback.RetryPolicy{MaxAttempts: 1}}, ep, nil, nil)
	require.NoError(t, err)
	defer c.Close()
	s := New(c, log)

	do(s, http.MethodGet, "/healthz", "")
	assert.Empty(t, buf.String())

	do(s, http.MethodGet, "/players", "")
	assert.Contains(t, buf.String(), "GET /players 200")
}

func TestCancelledRequest(t *testing.T) {
	s, _, ep := newTestServer(t, nil)
	ep.SetDelays(0, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := httptest.NewRequest(http.MethodPut, "/players/p1", strings.NewReader(`{"channel":"alpha"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}
