package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fclairamb/pinnotes/internal/version"
)

const (
	// HTTP server timeouts.
	readHeaderTimeout = 10 * time.Second // Timeout for reading request headers
	shutdownTimeout   = 30 * time.Second // Timeout for graceful shutdown

	// DefaultPort is the default HTTP port for the note service.
	DefaultPort = 8080
)

// Config holds the note service configuration.
type Config struct {
	Port int // HTTP port to listen on (PIN_SERVE_PORT, default 8080)
}

// Server is the shared note service HTTP server.
type Server struct {
	handler    *Handler
	httpServer *http.Server
	config     *Config
	logger     *slog.Logger
}

// NewServer creates the note service around a KV backend.
func NewServer(cfg *Config, kv KV, logger *slog.Logger) (*Server, error) {
	handler, err := NewHandler(kv, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/api/version", handleVersion)
	mux.HandleFunc("/api/notes", handler.HandleNotes)

	// Wrap with logging middleware
	loggedHandler := loggingMiddleware(mux, logger)

	return &Server{
		handler: handler,
		config:  cfg,
		logger:  logger,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           loggedHandler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}, nil
}

// Start starts the HTTP server. This method blocks until the server is
// stopped or the context is canceled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting note service",
		"port", s.config.Port,
		"version", version.Version,
		"commit", version.Commit)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
		s.logger.InfoContext(ctx, "shutting down note service")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func handleHealth(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(writer).Encode(map[string]string{"status": "ok"})
}

func handleVersion(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(writer).Encode(map[string]string{
		"version": version.Version,
		"commit":  version.Commit,
		"time":    version.GitTime,
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs every request with method, path, status and duration.
func loggingMiddleware(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, req *http.Request) {
		startTime := time.Now()
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

		next.ServeHTTP(recorder, req)

		logger.DebugContext(req.Context(), "request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", recorder.status,
			"duration", time.Since(startTime))
	})
}
