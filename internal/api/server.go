package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/isbn-scraper/internal/book"
	"github.com/JakeFAU/isbn-scraper/internal/config"
	"github.com/JakeFAU/isbn-scraper/internal/health"
	"github.com/JakeFAU/isbn-scraper/internal/metrics"
	"github.com/JakeFAU/isbn-scraper/internal/orchestrator"
	"github.com/JakeFAU/isbn-scraper/internal/store"
	"github.com/JakeFAU/isbn-scraper/internal/tabs"
)

// Scraper is the orchestration surface driven by the HTTP API.
type Scraper interface {
	Scrape(ctx context.Context, isbns []string) ([]*book.Record, error)
	Stats() []health.Snapshot
	Tabs() []tabs.SlotInfo
	ResetResource(id string) error
}

// Server wires HTTP handlers to the orchestrator and run store.
type Server struct {
	router  chi.Router
	scraper Scraper
	runs    *RunHandler
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. runs may be nil,
// in which case the run history endpoints answer 503.
func NewServer(scraper Scraper, runs store.RunRepository, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper: scraper,
		runs:    NewRunHandler(runs, logger.Named("runs")),
		cfg:     cfg,
		logger:  logger,
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrape", s.scrape)
		r.Get("/tabs", s.listTabs)
		r.Route("/resources", func(r chi.Router) {
			r.Get("/", s.listResources)
			r.Post("/{resource_id}/reset", s.resetResource)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.runs.ListRuns)
			r.Route("/{run_id}", func(r chi.Router) {
				r.Get("/", s.runs.GetRun)
				r.Get("/resources", s.runs.ListRunResources)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports ready while at least one resource can be selected.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	for _, snap := range s.scraper.Stats() {
		if snap.Status == health.StatusAvailable {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no available resources"})
}

type scrapeRequest struct {
	ISBNs []string `json:"isbns"`
}

type scrapeResult struct {
	Input  string       `json:"input"`
	Record *book.Record `json:"record"`
}

type scrapeResponse struct {
	Results []scrapeResult `json:"results"`
	Found   int            `json:"found"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.ISBNs) == 0 {
		writeError(w, http.StatusBadRequest, "isbns required")
		return
	}
	if limit := s.cfg.Server.MaxISBNs; limit > 0 && len(req.ISBNs) > limit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("too many isbns: %d > %d", len(req.ISBNs), limit))
		return
	}

	records, err := s.scraper.Scrape(r.Context(), req.ISBNs)
	resp := scrapeResponse{Results: make([]scrapeResult, len(req.ISBNs))}
	for i, input := range req.ISBNs {
		resp.Results[i].Input = input
		if i < len(records) && records[i] != nil {
			resp.Results[i].Record = records[i]
			resp.Found++
		}
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, orchestrator.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "scraper is shutting down")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		resp.Error = err.Error()
		writeJSON(w, http.StatusGatewayTimeout, resp)
	default:
		s.logger.Error("scrape failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "scrape failed")
	}
}

func (s *Server) listResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"resources": s.scraper.Stats()})
}

func (s *Server) resetResource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resource_id")
	if err := s.scraper.ResetResource(id); err != nil {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	s.logger.Info("resource reset via API", zap.String("resource", id))
	writeJSON(w, http.StatusOK, map[string]string{"resource": id, "status": string(health.StatusAvailable)})
}

func (s *Server) listTabs(w http.ResponseWriter, _ *http.Request) {
	slots := s.scraper.Tabs()
	if slots == nil {
		slots = []tabs.SlotInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tabs": slots})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

// apiKeyMiddleware guards everything except the probes.
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
