// Package api exposes the solve and settings surfaces over HTTP. It is a
// thin adapter: handlers translate between JSON messages and the solver
// components, and hold no solving logic of their own.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/valpere/captchafill/internal/config"
	"github.com/valpere/captchafill/internal/monitoring"
	"github.com/valpere/captchafill/internal/storage"
	"github.com/valpere/captchafill/internal/utils"
)

// Solver turns an encoded image into text.
type Solver interface {
	Solve(ctx context.Context, imageDataURL string) (string, error)
}

// PageSolver runs a full detect-extract-solve-fill cycle against a URL.
type PageSolver interface {
	SolvePage(ctx context.Context, url string) (string, error)
}

// PageSolverFunc adapts a function to the PageSolver interface.
type PageSolverFunc func(ctx context.Context, url string) (string, error)

// SolvePage implements PageSolver.
func (f PageSolverFunc) SolvePage(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

// Server is the HTTP adapter.
type Server struct {
	router   *mux.Router
	solver   Solver
	pages    PageSolver
	provider config.Provider
	history  storage.Store
	metrics  *monitoring.Metrics
	logger   *zap.Logger
	srv      *http.Server
}

// NewServer creates the HTTP adapter. pages may be nil when browser
// automation is disabled; history and metrics may be nil.
func NewServer(cfg *config.ServerConfig, solver Solver, pages PageSolver,
	provider config.Provider, history storage.Store,
	metrics *monitoring.Metrics, logger *zap.Logger) *Server {

	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		router:   mux.NewRouter(),
		solver:   solver,
		pages:    pages,
		provider: provider,
		history:  history,
		metrics:  metrics,
		logger:   logger,
	}

	s.routes()

	addr := ":8089"
	if cfg != nil && cfg.ListenAddress != "" {
		addr = cfg.ListenAddress
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func (s *Server) routes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/solve", s.handleSolve).Methods(http.MethodPost)
	v1.HandleFunc("/solve/page", s.handleSolvePage).Methods(http.MethodPost)
	v1.HandleFunc("/settings", s.handleGetSettings).Methods(http.MethodGet)
	v1.HandleFunc("/settings", s.handlePutSettings).Methods(http.MethodPut)
	v1.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
}

// Handler returns the routing handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("HTTP adapter listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleSolve accepts an already-extracted image and returns the solved
// text: {"imageDataUrl": s} -> {"solution": s} or {"error": s}.
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageDataURL string `json:"imageDataUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ImageDataURL == "" {
		s.writeError(w, http.StatusBadRequest, "imageDataUrl is required")
		return
	}

	solution, err := s.solver.Solve(r.Context(), req.ImageDataURL)
	if err != nil {
		s.logger.Warn("solve request failed", zap.Error(err))
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"solution": solution})
}

// handleSolvePage triggers a full cycle against a page URL:
// {"url": s} -> {"status": "completed", "solution": s}.
func (s *Server) handleSolvePage(w http.ResponseWriter, r *http.Request) {
	if s.pages == nil {
		s.writeError(w, http.StatusNotImplemented, "browser automation is not enabled")
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required")
		return
	}

	solution, err := s.pages.SolvePage(r.Context(), req.URL)
	if err != nil {
		s.logger.Warn("page solve failed", zap.String("url", req.URL), zap.Error(err))
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "completed",
		"solution": solution,
	})
}

// handleGetSettings returns the current settings record.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.provider.Load(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, cfg)
}

// handlePutSettings persists a new settings record and echoes it back.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg config.SolverConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.provider.Save(r.Context(), &cfg); err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.logger.Info("solver settings updated", zap.String("api_url", cfg.APIURL))
	s.writeJSON(w, http.StatusOK, &cfg)
}

// handleHistory lists recent solve attempts.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusOK, []attemptView{})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	attempts, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, attemptView{
			ID:         a.ID,
			PageURL:    a.PageURL,
			Solution:   a.Solution,
			Status:     a.Status,
			Error:      a.Error,
			DurationMS: a.DurationMS,
			CreatedAt:  a.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// attemptView is the JSON shape of a history entry.
type attemptView struct {
	ID         int64     `json:"id"`
	PageURL    string    `json:"pageUrl"`
	Solution   string    `json:"solution,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// statusForError maps solver error codes onto HTTP statuses.
func statusForError(err error) int {
	switch utils.CodeOf(err) {
	case utils.ErrCodeMissingConfig, utils.ErrCodeInvalidConfig:
		return http.StatusUnprocessableEntity
	case utils.ErrCodeRemoteService, utils.ErrCodeNoSolution:
		return http.StatusBadGateway
	case utils.ErrCodeDetectionFailed:
		return http.StatusNotFound
	case utils.ErrCodeExtractionFailed, utils.ErrCodeContextUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
