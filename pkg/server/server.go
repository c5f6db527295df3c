package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/entrhq/playback/pkg/logging"
	"github.com/entrhq/playback/pkg/playback"
	"github.com/entrhq/playback/pkg/widget"
)

// Controller is the part of playback.Controller the server drives.
type Controller interface {
	CreateOrReplace(ctx context.Context, req playback.Request) (*playback.Handle, error)
	Destroy(id string) bool
	Touch(id string) bool
	Count() int
	Lookup(id string) (playback.HandleInfo, error)
	Handles() []playback.HandleInfo
	ScriptLoaded() bool
}

// Server exposes a Controller over HTTP.
type Server struct {
	router     chi.Router
	controller Controller
	log        *logging.Logger
}

// New builds the router.
func New(controller Controller, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	s := &Server{router: r, controller: controller, log: log}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/players", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Post("/", s.handleCreate)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handleCreate)
		r.Delete("/{id}", s.handleDestroy)
		r.Post("/{id}/touch", s.handleTouch)
	})
}

// playerRequest is the body of create requests.
type playerRequest struct {
	Channel              string `json:"channel"`
	Quality              string `json:"quality,omitempty"`
	Autoplay             *bool  `json:"autoplay,omitempty"`
	Muted                *bool  `json:"muted,omitempty"`
	EnforceLowestQuality bool   `json:"enforce_lowest_quality,omitempty"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Players      int    `json:"players"`
	ScriptLoaded bool   `json:"script_loaded"`
}

type listResponse struct {
	Count   int                   `json:"count"`
	Players []playback.HandleInfo `json:"players"`
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "ok",
		Players:      s.controller.Count(),
		ScriptLoaded: s.controller.ScriptLoaded(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{
		Count:   s.controller.Count(),
		Players: s.controller.Handles(),
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	info, err := s.controller.Lookup(chi.URLParam(r, "id"))
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body playerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}
	if body.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required", "")
		return
	}

	opts := widget.PlayerOptions{
		Channel:              body.Channel,
		Quality:              body.Quality,
		Autoplay:             true,
		Muted:                true,
		EnforceLowestQuality: body.EnforceLowestQuality,
	}
	if body.Autoplay != nil {
		opts.Autoplay = *body.Autoplay
	}
	if body.Muted != nil {
		opts.Muted = *body.Muted
	}

	h, err := s.controller.CreateOrReplace(r.Context(), playback.Request{
		ID:      chi.URLParam(r, "id"),
		Options: opts,
	})
	if err != nil {
		s.writeControllerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.Info())
}

func (s *Server) handleTouch(w http.ResponseWriter, r *http.Request) {
	s.controller.Touch(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDestroy(w http.ResponseWriter, r *http.Request) {
	s.controller.Destroy(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	var ce *playback.ConstructionError
	switch {
	case errors.As(err, &ce):
		writeError(w, http.StatusBadGateway, err.Error(), ce.Kind.String())
	case errors.Is(err, playback.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, playback.ErrCapacity), errors.Is(err, playback.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error(), "")
	case errors.Is(err, playback.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error(), "")
	default:
		s.log.Errorf("unexpected controller error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, errorBody{Error: message, Kind: kind})
}

// requestLogger logs every request except health checks.
func requestLogger(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Infof("%s %s %d %dms request_id=%s", r.Method, r.URL.Path, ww.Status(), time.Since(start).Milliseconds(), middleware.GetReqID(r.Context()))
		})
	}
}
