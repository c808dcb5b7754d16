// Package server implements the Rekon storage HTTP server.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rekonhq/rekon-storage/internal/config"
	"github.com/rekonhq/rekon-storage/internal/handlers"
	"github.com/rekonhq/rekon-storage/internal/session"
	"github.com/rekonhq/rekon-storage/internal/upload"
)

// Server routes the upload API, health check, OpenAPI docs and Prometheus
// metrics on a single listener.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	sessions   session.Store
	uploads    *handlers.UploadHandler
	logger     *slog.Logger
	httpServer *http.Server
}

// HealthBody is the JSON body returned by the health check endpoint.
type HealthBody struct {
	Status string `json:"status" example:"ok" doc:"Health status"`
}

// HealthOutput is the Huma output struct for the health check endpoint.
type HealthOutput struct {
	Body HealthBody
}

// New creates a Server and wires up all routes. The session store is used by
// the health check to report whether the metadata layer is reachable.
func New(cfg *config.Config, svc *upload.Service, sessions session.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewMux()
	humaConfig := huma.DefaultConfig("Rekon Storage API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:      cfg,
		router:   router,
		api:      api,
		sessions: sessions,
		uploads:  handlers.NewUploadHandler(svc, cfg.Server.MaxChunkSize, logger),
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Handler returns the fully wrapped HTTP handler. Middleware chain:
// metricsMiddleware -> commonHeaders -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address. The returned
// http.Server is stored so it can be shut down gracefully.
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// registerRoutes configures all routes on the Chi router. Huma owns /health,
// /docs and /openapi.json; everything else is a plain chi route.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the storage service.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		if s.sessions != nil {
			if err := s.sessions.Ping(ctx); err != nil {
				s.logger.Error("health check: session store unreachable", "error", err)
				return nil, huma.Error503ServiceUnavailable("session store unreachable")
			}
		}
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// HEAD /health separately (Huma only does one method per registration).
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Post("/getUploadToken", s.uploads.GetUploadToken)
	s.router.Put("/uploadChunk/{uploadToken}/{index}", s.uploads.UploadChunk)
	s.router.Post("/completeUpload", s.uploads.CompleteUpload)
	s.router.Get("/getFile/{uploadToken}", s.uploads.GetFile)
	s.router.Delete("/deleteFile/{uploadToken}", s.uploads.DeleteFile)
	s.router.Get("/profilePicture/{accountID}", s.uploads.ProfilePicture)
}
