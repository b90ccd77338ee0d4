package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/TobiSchelling/pulsemap/internal/behaviormap"
	"github.com/TobiSchelling/pulsemap/internal/database"
	"github.com/TobiSchelling/pulsemap/internal/insight"
	"github.com/TobiSchelling/pulsemap/internal/pipeline"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server serves behavior maps as HTML pages and a JSON API.
type Server struct {
	db       *database.DB
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB, pl *pipeline.Pipeline, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"percent":  func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
		"ago":      func(t time.Time) string { return t.Local().Format("Jan 2, 15:04") },
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "user.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, pipeline: pl, logger: logger, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /users/{id}", s.handleUser)
	s.mux.HandleFunc("POST /users/{id}/checkin", s.handleCheckInForm)
	s.mux.HandleFunc("POST /users/{id}/message", s.handleMessageForm)

	// API
	s.mux.HandleFunc("GET /api/users", s.handleListUsers)
	s.mux.HandleFunc("GET /api/users/{id}/map", s.handleMap)
	s.mux.HandleFunc("GET /api/users/{id}/insights", s.handleInsights)
	s.mux.HandleFunc("POST /api/users/{id}/insights/refresh", s.handleRefreshInsights)
	s.mux.HandleFunc("POST /api/users/{id}/messages", s.handleMessage)
	s.mux.HandleFunc("POST /api/users/{id}/checkins", s.handleCheckIn)
	s.mux.HandleFunc("POST /api/users/{id}/events", s.handleEvent)
}

type userRow struct {
	User  behaviormap.User
	State *insight.State
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers()
	if err != nil {
		s.serverError(w, "listing users", err)
		return
	}

	rows := make([]userRow, 0, len(users))
	for _, u := range users {
		state, err := s.db.GetInsightState(u.ID)
		if err != nil {
			s.serverError(w, "loading insight state", err)
			return
		}
		rows = append(rows, userRow{User: u, State: state})
	}

	s.render(w, "index.html", map[string]any{
		"Users": rows,
	})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	payload, err := s.pipeline.BuildMap(r.Context(), id)
	if errors.Is(err, pipeline.ErrUserNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.serverError(w, "building map", err)
		return
	}
	state, _ := s.db.GetInsightState(id)

	s.render(w, "user.html", map[string]any{
		"UserID":  id,
		"Map":     payload,
		"State":   state,
		"Report":  behaviormap.Markdown(*payload),
		"Flash":   r.URL.Query().Get("flash"),
		"Pending": s.pendingCount(id),
	})
}

func (s *Server) pendingCount(userID string) int {
	n, err := s.db.CountPendingMessages(userID)
	if err != nil {
		s.logger.Warn("counting pending messages", zap.String("user_id", userID), zap.Error(err))
	}
	return n
}

func (s *Server) handleCheckInForm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pct, err := strconv.ParseFloat(strings.TrimSpace(r.FormValue("percentage")), 64)
	if err != nil || pct < 0 || pct > 100 {
		http.Redirect(w, r, "/users/"+id+"?flash=Percentage+must+be+0-100", http.StatusFound)
		return
	}
	if _, err := s.pipeline.RecordCheckIn(r.Context(), id, pct, strings.TrimSpace(r.FormValue("note"))); err != nil {
		s.writeError(w, err)
		return
	}
	http.Redirect(w, r, "/users/"+id, http.StatusFound)
}

func (s *Server) handleMessageForm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body := strings.TrimSpace(r.FormValue("body"))
	if body != "" {
		if _, err := s.pipeline.IngestMessage(r.Context(), id, body); err != nil {
			s.writeError(w, err)
			return
		}
	}
	http.Redirect(w, r, "/users/"+id, http.StatusFound)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.ListUsers()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if users == nil {
		users = []behaviormap.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	payload, err := s.pipeline.BuildMap(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		fmt.Fprint(w, behaviormap.Markdown(*payload))
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	u, err := s.db.GetUser(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if u == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "user not found"})
		return
	}
	state, err := s.db.GetInsightState(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if state == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no insights yet; refresh first"})
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleRefreshInsights(w http.ResponseWriter, r *http.Request) {
	state, err := s.pipeline.RefreshInsights(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string `json:"body"`
	}
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Body) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "body is required"})
		return
	}
	res, err := s.pipeline.IngestMessage(r.Context(), r.PathValue("id"), req.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message_id": res.Message.ID,
		"signals":    nonNil(res.Signals),
	})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Percentage *float64 `json:"percentage"`
		Note       string   `json:"note"`
	}
	if err := decode(w, r, &req); err != nil || req.Percentage == nil || *req.Percentage < 0 || *req.Percentage > 100 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "percentage between 0 and 100 is required"})
		return
	}
	c, err := s.pipeline.RecordCheckIn(r.Context(), r.PathValue("id"), *req.Percentage, req.Note)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string           `json:"type"`
		Metadata insight.Metadata `json:"metadata"`
	}
	if err := decode(w, r, &req); err != nil || strings.TrimSpace(req.Type) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "type is required"})
		return
	}
	e, err := s.pipeline.RecordEvent(r.Context(), r.PathValue("id"), req.Type, req.Metadata)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.serverError(w, "rendering template "+name, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps pipeline errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrUserNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	s.logger.Error("request failed", zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// Serve starts the HTTP server on the given port and stops it when ctx ends.
func Serve(ctx context.Context, db *database.DB, pl *pipeline.Pipeline, logger *zap.Logger, port int) error {
	srv, err := New(db, pl, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("server listening", zap.String("url", "http://"+addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
