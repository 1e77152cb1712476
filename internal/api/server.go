// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package api exposes the local HTTP surface the web UI talks to:
// project lifecycle, message send, chat long-polling, analyst data
// browsing, and export. The API layer never writes project state
// directly; every mutation goes through a project's worker queue.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/elias-jhsph/scienceai/internal/ingest"
	"github.com/elias-jhsph/scienceai/internal/llm"
	"github.com/elias-jhsph/scienceai/internal/project"
	"github.com/elias-jhsph/scienceai/pkg/types"
)

const defaultPollTimeout = 25 * time.Second

type errorResponse struct {
	Error string `json:"error"`
}

type projectList struct {
	Projects []string `json:"projects"`
}

type projectStatus struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

type chatPage struct {
	Messages []types.Message `json:"messages"`
	Stamp    string          `json:"stamp"`
}

type sendRequest struct {
	Content string `json:"content"`
}

// Server serves the UI API over the project storage root.
type Server struct {
	cfg types.Config
	log zerolog.Logger

	// oracle and processor are overridable for tests; nil selects the
	// real OpenAI client and poppler-backed processor.
	oracle        llm.Oracle
	processor     ingest.Processor
	crossrefEmail string

	mu       sync.Mutex
	sessions map[string]*session

	server *http.Server
}

// Option adjusts server construction.
type Option func(*Server)

// WithOracle substitutes the model oracle, primarily for tests.
func WithOracle(oracle llm.Oracle) Option {
	return func(s *Server) { s.oracle = oracle }
}

// WithProcessor substitutes the paper processor.
func WithProcessor(p ingest.Processor) Option {
	return func(s *Server) { s.processor = p }
}

// WithCrossrefEmail sets the polite-pool contact for catalog lookups.
func WithCrossrefEmail(email string) Option {
	return func(s *Server) { s.crossrefEmail = email }
}

// New builds the server. Call Start to listen.
func New(cfg types.Config, log zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("component", "api").Logger(),
		sessions: map[string]*session{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.server = &http.Server{Addr: cfg.Server.Addr, Handler: s.Routes()}
	return s
}

// Routes builds the router. Exposed so tests can drive handlers with
// httptest without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestLog)

	r.Get("/api/projects", s.listProjects)
	r.Route("/api/projects/{name}", func(r chi.Router) {
		r.Post("/", s.openProject)
		r.Delete("/", s.closeProject)
		r.Get("/", s.getProject)
		r.Post("/messages", s.sendMessage)
		r.Get("/chat", s.getChat)
		r.Get("/data", s.browseData)
		r.Get("/export", s.exportProject)
		r.Get("/merged.csv", s.mergedCSV)
	})
	return r
}

// Start listens until Stop is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("api listening")
	err := s.server.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the listener down and closes every open project.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)

	s.mu.Lock()
	sessions := s.sessions
	s.sessions = map[string]*session{}
	s.mu.Unlock()
	for _, sess := range sessions {
		if closeErr := sess.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	names, err := project.Projects(s.cfg.Project.StorageDir)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, projectList{Projects: names})
}

func (s *Server) openProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	sess, ok := s.sessions[name]
	if !ok {
		var err error
		sess, err = s.newSession(name)
		if err != nil {
			s.mu.Unlock()
			s.renderError(w, r, err)
			return
		}
		s.sessions[name] = sess
	}
	s.mu.Unlock()

	ready, runErr := sess.status()
	status := projectStatus{Name: name, Ready: ready}
	if runErr != nil {
		status.Error = runErr.Error()
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, status)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "name"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	ready, runErr := sess.status()
	status := projectStatus{Name: sess.name, Ready: ready}
	if runErr != nil {
		status.Error = runErr.Error()
	}
	render.JSON(w, r, status)
}

func (s *Server) closeProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.Lock()
	sess, ok := s.sessions[name]
	delete(s.sessions, name)
	s.mu.Unlock()
	if !ok {
		s.renderError(w, r, types.ErrKeyNotFound)
		return
	}
	if err := sess.close(); err != nil {
		s.renderError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "name"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	var req sendRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil || req.Content == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "body must carry a non-empty content field"})
		return
	}

	msg := types.Message{
		Role:    types.RoleUser,
		Content: req.Content,
		Status:  types.StatusPending,
		Time:    time.Now(),
	}
	if err := sess.send(msg); err != nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, errorResponse{Error: err.Error()})
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, msg)
}

// getChat returns the visible chat log. With a since stamp it long-polls
// the store's update stamp first, so the UI refreshes without a tight
// request loop.
func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "name"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	store := sess.reader.Store()
	stamp := r.URL.Query().Get("since")
	if stamp != "" {
		timeout := s.cfg.Server.PollTimeout
		if timeout <= 0 {
			timeout = defaultPollTimeout
		}
		if stamp, _, err = store.AwaitUpdate(r.Context(), stamp, timeout); err != nil {
			s.renderError(w, r, err)
			return
		}
	} else {
		if stamp, err = store.UpdateStamp(r.Context()); err != nil {
			s.renderError(w, r, err)
			return
		}
	}

	chat, err := sess.reader.Chat(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	visible := make([]types.Message, 0, len(chat))
	for _, msg := range chat {
		if !msg.Hidden {
			visible = append(visible, msg)
		}
	}
	render.JSON(w, r, chatPage{Messages: visible, Stamp: stamp})
}

func (s *Server) browseData(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "name"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	data, err := sess.reader.BrowseAnalystData(r.Context(), path)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	render.JSON(w, r, data)
}

func (s *Server) exportProject(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "name"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.name+".zip"))
	if err := sess.reader.ExportArchive(w); err != nil {
		s.log.Error().Err(err).Str("project", sess.name).Msg("archive export failed")
	}
}

func (s *Server) mergedCSV(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(chi.URLParam(r, "name"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	path, err := sess.reader.MergeTrackers(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\"merged_analyst_tools.csv\"")
	http.ServeFile(w, r, path)
}

func (s *Server) session(name string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[name]
	if !ok {
		return nil, fmt.Errorf("project %s is not open: %w", name, types.ErrKeyNotFound)
	}
	return sess, nil
}

// renderError maps the error taxonomy onto HTTP statuses: absent
// entities are 404, protocol misuse is 400, everything else 500.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, types.ErrKeyNotFound),
		errors.Is(err, types.ErrAnalystNotFound),
		errors.Is(err, types.ErrPaperNotFound),
		errors.Is(err, types.ErrListNotFound):
		render.Status(r, http.StatusNotFound)
	case errors.Is(err, types.ErrNotPending),
		errors.Is(err, types.ErrNotUser),
		errors.Is(err, types.ErrBadDelegation),
		errors.Is(err, types.ErrListExists):
		render.Status(r, http.StatusBadRequest)
	default:
		render.Status(r, http.StatusInternalServerError)
	}
	render.JSON(w, r, errorResponse{Error: err.Error()})
}

// requestLog tags every request with an id and logs its outcome.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("req_id", id).
			Str("method", r.Method).
			Stringer("url", r.URL).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}
