package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/aigoflow/crash-insight/internal/handlers"
	"github.com/aigoflow/crash-insight/internal/services"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	httpAddr         string
	inferenceService *services.InferenceService
	modelName        string
}

func NewServer(httpAddr, modelName string, inferenceService *services.InferenceService) *Server {
	return &Server{
		httpAddr:         httpAddr,
		inferenceService: inferenceService,
		modelName:        modelName,
	}
}

// Handler returns the shim's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handlers.NewInferenceHandler(s.inferenceService).RegisterRoutes(mux)
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			"addr", s.httpAddr,
			"model", s.modelName,
			"endpoints", []string{"/", "/infer", "/logs", "/stats"})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	slog.Info("HTTP server shutting down")
	return srv.Shutdown(shutdownCtx)
}
