// Package server exposes the engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/planhub/ai-engine/pkg/config"
	"github.com/planhub/ai-engine/pkg/orchestrator"
)

// Server wraps the HTTP listener around an engine.
type Server struct {
	engine *orchestrator.Engine
	http   *http.Server
}

func New(engine *orchestrator.Engine, cfg config.ServerConfig) *Server {
	s := &Server{engine: engine}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/actions", s.handleAction)
		r.Post("/sync", s.handleSync)
		r.Get("/capabilities", s.handleCapabilities)
		r.Get("/tools", s.handleListTools)
		r.Get("/tools/{name}", s.handleGetTool)
	})

	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orchestrator.KindValidation, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.Query(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orchestrator.KindValidation, "invalid request body: "+err.Error())
		return
	}

	resp, err := s.engine.ExecuteAction(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type syncRequest struct {
	OrganizationID string `json:"organization_id"`
	SourceType     string `json:"source_type,omitempty"`
	EntityID       string `json:"entity_id,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orchestrator.KindValidation, "invalid request body: "+err.Error())
		return
	}

	report, err := s.engine.Sync(r.Context(), req.OrganizationID, req.SourceType, req.EntityID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	status := http.StatusOK
	if report.Failed() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Capabilities())
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	caps := s.engine.Capabilities()
	category := r.URL.Query().Get("category")

	var out []orchestrator.ToolCapability
	for cat, group := range caps.Categories {
		if category != "" && string(cat) != category {
			continue
		}
		out = append(out, group...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool, err := s.engine.Tool(name)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tool)
}

type errorBody struct {
	Kind    orchestrator.Kind `json:"kind"`
	Message string            `json:"message"`
}

func writeEngineError(w http.ResponseWriter, err error) {
	var engErr *orchestrator.EngineError
	if errors.As(err, &engErr) {
		writeError(w, engErr.Kind, engErr.Message)
		return
	}
	writeError(w, orchestrator.KindInternal, err.Error())
}

func writeError(w http.ResponseWriter, kind orchestrator.Kind, message string) {
	writeJSON(w, statusFor(kind), errorBody{Kind: kind, Message: message})
}

func statusFor(kind orchestrator.Kind) int {
	switch kind {
	case orchestrator.KindValidation:
		return http.StatusBadRequest
	case orchestrator.KindNotFound:
		return http.StatusNotFound
	case orchestrator.KindUpstreamUnavailable:
		return http.StatusBadGateway
	case orchestrator.KindLoopLimitExceeded:
		return http.StatusUnprocessableEntity
	case orchestrator.KindAborted:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
