// Package server exposes preview sessions over HTTP.
//
// Editors drive a session through JSON POSTs (document edits, saves, cursor
// moves); display clients follow it through a Server-Sent Events stream and
// fetch pages by number. Each session owns one render controller.
package server

import (
	"context"
	_ "embed"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/lilyview/pkg/buildinfo"
	"github.com/matzehuels/lilyview/pkg/config"
	"github.com/matzehuels/lilyview/pkg/errors"
	"github.com/matzehuels/lilyview/pkg/preview"
)

//go:embed viewer.html
var viewerHTML []byte

// Server is the HTTP display surface.
type Server struct {
	router   chi.Router
	renderer preview.Renderer
	settings func() config.Settings
	logger   *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a server whose sessions render with r.
func New(r preview.Renderer, settings func() config.Settings, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		renderer: r,
		settings: settings,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))

	r.Get("/health", s.handleHealth)
	r.Get("/sessions", s.handleListSessions)
	r.Post("/sessions", s.handleCreateSession)

	r.Route("/sessions/{id}", func(r chi.Router) {
		r.Use(s.sessionCtx)

		r.Get("/", s.handleGetSession)
		r.Delete("/", s.handleDeleteSession)
		r.Get("/view", s.handleView)
		r.Get("/events", s.handleEvents)
		r.Get("/pages/{n}", s.handlePage)

		// Display inbound.
		r.Post("/ready", s.handleReady)
		r.Post("/click", s.handleClick)
		r.Post("/debug", s.handleDebug)

		// Editor inbound.
		r.Post("/document", s.handleDocument)
		r.Post("/save", s.handleSave)
		r.Post("/cursor", s.handleCursor)
		r.Post("/render", s.handleRender)
		r.Post("/selection", s.handleSelection)
		r.Post("/visible", s.handleVisible)
		r.Post("/focus", s.handleFocus)
	})

	s.router = r
}

// Create starts a session for doc and requests its first render. Extra
// surfaces receive every push alongside the session's SSE clients.
func (s *Server) Create(doc preview.Document, extra ...preview.Surface) *Session {
	sess := newSession(doc)
	var surface preview.Surface = sess
	if len(extra) > 0 {
		surface = append(preview.MultiSurface{sess}, extra...)
	}
	sess.ctl = preview.New(s.renderer, surface, sess, s.settings,
		preview.WithLogger(s.logger.With("session", sess.ID[:8])))
	sess.ctl.Initialize()

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.logger.Info("session opened", "session", sess.ID, "path", doc.Path)
	sess.Open()
	return sess
}

// Get returns the session with id.
func (s *Server) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeSessionNotFound, "no session %s", id)
	}
	return sess, nil
}

// Remove closes and forgets the session with id.
func (s *Server) Remove(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return errors.New(errors.ErrCodeSessionNotFound, "no session %s", id)
	}
	sess.Close()
	s.logger.Info("session closed", "session", id)
	return nil
}

// Close closes every session.
func (s *Server) Close() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		all = append(all, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, sess := range all {
		sess.Close()
	}
}

// ListenAndServe serves on addr until ctx is canceled, then closes every
// session.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		s.Close()
		return err
	case <-ctx.Done():
	}
	// Closing the sessions ends their event streams so Shutdown can finish.
	s.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// =============================================================================
// Handlers
// =============================================================================

type sessionKey struct{}

func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.Get(chi.URLParam(r, "id"))
		if err != nil {
			jsonError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *Session {
	return r.Context().Value(sessionKey{}).(*Session)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Get()})
}

type sessionInfo struct {
	ID          string    `json:"id"`
	URI         string    `json:"uri"`
	Path        string    `json:"path"`
	Version     int       `json:"version"`
	State       string    `json:"state"`
	PageCount   int       `json:"page_count"`
	Subscribers int       `json:"subscribers"`
	Created     time.Time `json:"created"`
}

func (sess *Session) info() sessionInfo {
	doc := sess.Document()
	in := sessionInfo{
		ID:          sess.ID,
		URI:         doc.URI,
		Path:        doc.Path,
		Version:     doc.Version,
		State:       sess.ctl.State().String(),
		Subscribers: sess.hub.subscribers(),
		Created:     sess.Created,
	}
	if last, ok := sess.ctl.Last(); ok {
		in.PageCount = last.PageCount
	}
	return in
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]sessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.info())
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Path string  `json:"path"`
		Text *string `json:"text"`
	}
	if !decode(w, r, &in) {
		return
	}
	if !s.settings().Supported(in.Path) {
		jsonError(w, errors.New(errors.ErrCodeInvalidPath, "unsupported document: %q", in.Path))
		return
	}
	doc, err := NewDocument(in.Path, in.Text)
	if err != nil {
		jsonError(w, err)
		return
	}
	sess := s.Create(doc)
	writeJSON(w, http.StatusCreated, sess.info())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).info())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Remove(sessionFrom(r).ID); err != nil {
		jsonError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(viewerHTML)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).hub.serve(w, r)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		jsonError(w, errors.New(errors.ErrCodeInvalidInput, "page must be a number"))
		return
	}
	last, ok := sess.ctl.Last()
	if !ok || n < 1 || n > len(last.Pages) {
		jsonError(w, errors.New(errors.ErrCodeNotFound, "no page %d", n))
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	w.Write([]byte(last.Pages[n-1]))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).ctl.PreviewReady()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Ref string `json:"ref"`
	}
	if !decode(w, r, &in) {
		return
	}
	sessionFrom(r).ctl.Click(in.Ref)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Message string `json:"message"`
	}
	if !decode(w, r, &in) {
		return
	}
	sessionFrom(r).ctl.DebugMessage(in.Message)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text    string `json:"text"`
		Version int    `json:"version"`
	}
	if !decode(w, r, &in) {
		return
	}
	doc, err := sessionFrom(r).Edit(in.Text, in.Version)
	if err != nil {
		jsonError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"version": doc.Version})
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text *string `json:"text"`
	}
	if !decodeOptional(w, r, &in) {
		return
	}
	sessionFrom(r).Save(in.Text)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCursor(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Path   string `json:"path"`
		Line   int    `json:"line"`
		Column int    `json:"column"`
	}
	if !decode(w, r, &in) {
		return
	}
	sess := sessionFrom(r)
	if in.Path == "" {
		in.Path = sess.Document().Path
	}
	sess.ctl.Cursor(in.Path, in.Line, in.Column)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).Render()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Text == "" {
		jsonError(w, errors.New(errors.ErrCodeInvalidInput, "selection is empty"))
		return
	}
	sessionFrom(r).Select(in.Text)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Visible bool `json:"visible"`
	}
	if !decode(w, r, &in) {
		return
	}
	sessionFrom(r).ctl.SetVisible(in.Visible)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).Focus()
	w.WriteHeader(http.StatusAccepted)
}

// =============================================================================
// Helpers
// =============================================================================

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": errors.UserMessage(err),
		"code":  string(errors.GetCode(err)),
	})
}

func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeNotFound, errors.ErrCodeFileNotFound, errors.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidPath, errors.ErrCodeInvalidAnchor,
		errors.ErrCodeInvalidConfig, errors.ErrCodeInvalidFormat:
		return http.StatusBadRequest
	case errors.ErrCodeStaleVersion:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, errors.Wrap(errors.ErrCodeInvalidInput, err, "malformed request body"))
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}

// requestLogger logs every request at debug level.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
