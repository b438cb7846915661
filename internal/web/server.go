// Package web provides the HTTP chat surface for Magpie: a JSON chat
// endpoint, a websocket variant for interactive clients, and a small
// built-in chat page.
package web

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/magpiebot/magpie/internal/agent"
	"github.com/magpiebot/magpie/internal/llm"
	"github.com/magpiebot/magpie/internal/memory"
	"github.com/magpiebot/magpie/internal/usage"
)

//go:embed static/*
var staticFiles embed.FS

// Responder produces the assistant's reply for one prompt. Implemented
// by agent.Orchestrator; tests substitute fakes.
type Responder interface {
	Respond(ctx context.Context, contextKey, prompt string) (string, error)
}

// Config holds the server settings.
type Config struct {
	Address string
	Port    int

	// Scope selects the conversation key shape (room-user, room,
	// thread). See memory.ContextKey.
	Scope string
}

// Server is the HTTP chat server.
type Server struct {
	cfg    Config
	agent  Responder
	memory *memory.Store
	usage  *usage.Store
	logger *slog.Logger
	server *http.Server
}

// NewServer creates the chat server. The memory store may be nil, in
// which case turns are not persisted.
func NewServer(cfg Config, responder Responder, mem *memory.Store, logger *slog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		agent:  responder,
		memory: mem,
		logger: logger.With("component", "web"),
	}
}

// Start begins serving HTTP requests. Blocks until the server is shut
// down or fails.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/usage", s.handleUsage)
	mux.HandleFunc("HEAD /{$}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	sub, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("embedded static files: %w", err)
	}
	mux.Handle("GET /{$}", http.FileServer(http.FS(sub)))

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long for slow models
	}

	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting chat server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server. Returns nil if the server was
// never started.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// withLogging wraps an HTTP handler to log request details.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Debug("health check write failed", "error", err)
	}
}

// userFacingError maps internal failures to a short message and HTTP
// status. Raw error text never reaches the client except through the
// cases below.
func userFacingError(err error) (string, int) {
	var notFound *llm.ModelNotFoundError
	var timeout *llm.TimeoutError
	var limit *agent.IterationLimitError

	switch {
	case errors.Is(err, llm.ErrConnection):
		return "The model backend is unreachable. Check that it is running and try again.", http.StatusBadGateway
	case errors.As(err, &notFound):
		return fmt.Sprintf("Model %q is not available on the backend. Pull or provision it first.", notFound.Model), http.StatusBadGateway
	case errors.As(err, &timeout):
		return fmt.Sprintf("The request timed out after %s.", timeout.Timeout), http.StatusGatewayTimeout
	case errors.As(err, &limit):
		return fmt.Sprintf("I couldn't settle on an answer after %d rounds of tool use.", limit.Iterations), http.StatusInternalServerError
	case errors.Is(err, llm.ErrEmptyResponse):
		return "The model returned an empty response. Try again.", http.StatusBadGateway
	default:
		return "Something went wrong handling that request.", http.StatusInternalServerError
	}
}
