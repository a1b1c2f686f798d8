// Package api exposes library sessions over HTTP. Each client opens a
// session, receives a bearer token, and drives that session's catalog, draft
// and search query through JSON endpoints.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"SmartLibrary/internal/library"
	"SmartLibrary/internal/session"
	"SmartLibrary/pkg/kit"
)

const readyTimeout = 1 * time.Second

type Server struct {
	Sessions *session.Registry
	Tokens   *session.TokenMaker
	// MaxAge bounds a token's lifetime regardless of activity.
	MaxAge time.Duration

	Log     *zap.Logger
	Metrics *LibraryMetrics
	// OpenLimiter throttles POST /sessions per client IP when set.
	OpenLimiter *kit.IPRateLimiter
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", s.readyz)

	open := http.HandlerFunc(s.openSession)
	if s.OpenLimiter != nil {
		r.With(s.OpenLimiter.Middleware).Post("/sessions", open)
	} else {
		r.Post("/sessions", open)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(RequireSession(s.Tokens))

		pr.Get("/session", s.view)
		pr.Delete("/session", s.endSession)

		pr.Get("/books", s.visible)
		pr.Get("/books/all", s.all)
		pr.Post("/books", s.add)

		pr.Get("/search", s.getQuery)
		pr.Put("/search", s.setQuery)

		pr.Get("/draft", s.getDraft)
		pr.Put("/draft/category", s.setCategory)
		pr.Put("/draft/{field}", s.setField)
	})

	return r
}

func (s *Server) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.Sessions.Ping(ctx); err != nil {
		s.log().Warn("readyz failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type openResp struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.Sessions.Open()
	if err != nil {
		s.log().Error("open session failed", zap.Error(err))
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not accepting sessions", nil)
		return
	}

	expiresAt := info.OpenedAt.Add(s.MaxAge).UTC().Truncate(time.Second)
	tok, err := s.Tokens.New(info.ID, expiresAt)
	if err != nil {
		_ = s.Sessions.End(info.ID)
		s.log().Error("token issue", zap.Error(err))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return
	}

	s.Metrics.opened()
	s.log().Info("session opened", zap.String("session_id", info.ID))

	kit.WriteJSON(w, http.StatusCreated, openResp{
		SessionID: info.ID,
		Token:     tok,
		ExpiresAt: expiresAt,
	})
}

func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	id, _ := SessionIDFromContext(r.Context())

	if err := s.Sessions.End(id); err != nil {
		s.writeSessionError(w, r, err)
		return
	}

	s.log().Info("session ended", zap.String("session_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// withLibrary runs fn against the caller's session and reports lookup
// failures. It returns false when a response has already been written.
func (s *Server) withLibrary(w http.ResponseWriter, r *http.Request, fn func(*library.Session)) bool {
	id, _ := SessionIDFromContext(r.Context())

	err := s.Sessions.With(id, func(lib *library.Session) error {
		fn(lib)
		return nil
	})
	if err != nil {
		s.writeSessionError(w, r, err)
		return false
	}
	return true
}

func (s *Server) writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, session.ErrNotFound) {
		kit.WriteError(w, r, http.StatusNotFound, "session not found", nil)
		return
	}
	s.log().Error("session access failed", zap.Error(err))
	kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
}

type sessionView struct {
	Books   []library.Book `json:"books"`
	Visible []library.Book `json:"visible"`
	Draft   library.Draft  `json:"draft"`
	Query   string         `json:"query"`
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	var v sessionView
	ok := s.withLibrary(w, r, func(lib *library.Session) {
		v = sessionView{
			Books:   lib.Books(),
			Visible: lib.Visible(),
			Draft:   lib.Draft(),
			Query:   lib.Query(),
		}
	})
	if ok {
		kit.WriteJSON(w, http.StatusOK, v)
	}
}

func (s *Server) visible(w http.ResponseWriter, r *http.Request) {
	var books []library.Book
	if s.withLibrary(w, r, func(lib *library.Session) { books = lib.Visible() }) {
		kit.WriteJSON(w, http.StatusOK, books)
	}
}

func (s *Server) all(w http.ResponseWriter, r *http.Request) {
	var books []library.Book
	if s.withLibrary(w, r, func(lib *library.Session) { books = lib.Books() }) {
		kit.WriteJSON(w, http.StatusOK, books)
	}
}

type addResp struct {
	Added bool          `json:"added"`
	Book  *library.Book `json:"book,omitempty"`
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	var (
		book  library.Book
		added bool
	)
	if !s.withLibrary(w, r, func(lib *library.Session) { book, added = lib.Add() }) {
		return
	}

	s.Metrics.added(added)

	if !added {
		kit.WriteJSON(w, http.StatusOK, addResp{Added: false})
		return
	}

	id, _ := SessionIDFromContext(r.Context())
	s.log().Debug("book added",
		zap.String("session_id", id),
		zap.String("book_id", book.ID),
		zap.String("category", book.Category.String()),
	)
	kit.WriteJSON(w, http.StatusCreated, addResp{Added: true, Book: &book})
}

type queryBody struct {
	Query string `json:"query"`
}

func (s *Server) getQuery(w http.ResponseWriter, r *http.Request) {
	var q string
	if s.withLibrary(w, r, func(lib *library.Session) { q = lib.Query() }) {
		kit.WriteJSON(w, http.StatusOK, queryBody{Query: q})
	}
}

func (s *Server) setQuery(w http.ResponseWriter, r *http.Request) {
	var req queryBody
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	if s.withLibrary(w, r, func(lib *library.Session) { lib.SetQuery(req.Query) }) {
		kit.WriteJSON(w, http.StatusOK, req)
	}
}

func (s *Server) getDraft(w http.ResponseWriter, r *http.Request) {
	var d library.Draft
	if s.withLibrary(w, r, func(lib *library.Session) { d = lib.Draft() }) {
		kit.WriteJSON(w, http.StatusOK, d)
	}
}

type fieldReq struct {
	Value string `json:"value"`
}

func (s *Server) setField(w http.ResponseWriter, r *http.Request) {
	f, err := library.ParseField(chi.URLParam(r, "field"))
	if err != nil {
		kit.WriteError(w, r, http.StatusNotFound, "unknown field", map[string]any{"field": chi.URLParam(r, "field")})
		return
	}

	var req fieldReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	var d library.Draft
	ok := s.withLibrary(w, r, func(lib *library.Session) {
		lib.SetDraftField(f, req.Value)
		d = lib.Draft()
	})
	if ok {
		kit.WriteJSON(w, http.StatusOK, d)
	}
}

type categoryReq struct {
	Category string `json:"category"`
}

func (s *Server) setCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryReq
	if err := kit.DecodeJSON(w, r, &req); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	c, err := library.ParseCategory(req.Category)
	if err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "unknown category", map[string]any{
			"category": req.Category,
			"allowed":  library.Categories(),
		})
		return
	}

	var d library.Draft
	ok := s.withLibrary(w, r, func(lib *library.Session) {
		lib.SetDraftCategory(c)
		d = lib.Draft()
	})
	if ok {
		kit.WriteJSON(w, http.StatusOK, d)
	}
}
