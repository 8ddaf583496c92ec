// Package server implements the firebridge HTTP gateway, which exposes the
// bridge's fetch-one, fetch-many and upload-one operations over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/firebridge/firebridge/internal/bridge"
	"github.com/firebridge/firebridge/internal/config"
	"github.com/firebridge/firebridge/internal/docstore"
	"github.com/firebridge/firebridge/internal/storage"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the firebridge HTTP gateway.
type Server struct {
	cfg        *config.Config
	router     chi.Router
	api        huma.API
	sched      *bridge.Scheduler
	docs       *docstore.Client
	objects    *storage.Client
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

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithDocuments sets the document client. Without it the server uses an
// in-memory store.
func WithDocuments(docs *docstore.Client) ServerOption {
	return func(s *Server) {
		s.docs = docs
	}
}

// WithObjects sets the object storage client. Without it the server uses an
// in-memory backend.
func WithObjects(objects *storage.Client) ServerOption {
	return func(s *Server) {
		s.objects = objects
	}
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// New creates a Server that runs its bridge operations on sched and wires
// all routes on a Chi router with a Huma API.
func New(cfg *config.Config, sched *bridge.Scheduler, opts ...ServerOption) *Server {
	router := chi.NewMux()

	humaConfig := huma.DefaultConfig("firebridge API", "1.0.0")
	humaConfig.DocsPath = "/docs"
	humaConfig.OpenAPIPath = "/openapi"
	api := humachi.New(router, humaConfig)

	s := &Server{
		cfg:    cfg,
		router: router,
		api:    api,
		sched:  sched,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.docs == nil {
		s.docs = docstore.NewClient(docstore.NewMemoryStore())
	}
	if s.objects == nil {
		s.objects = storage.NewClient(storage.NewMemoryBackend(""))
	}

	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in the middleware chain:
// metricsMiddleware -> commonHeaders -> router.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.router
	handler = commonHeaders(handler)
	handler = metricsMiddleware(handler)
	return handler
}

// ListenAndServe starts the HTTP server on the given address.
// The returned http.Server is stored so it can be shut down gracefully.
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

// registerRoutes configures all routes on the Chi router. JSON operations go
// through Huma so they appear in the OpenAPI document; raw-body object
// routes are plain Chi handlers.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the firebridge gateway.",
		Tags:        []string{"System"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: HealthBody{Status: "ok"}}, nil
	})

	// Huma only does one method per registration.
	s.router.Head("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
	})

	if s.cfg.Observability.Metrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}

	s.registerDocumentRoutes()

	s.router.Post("/v1/objects/*", s.uploadObject)
	s.router.Get("/objects/*", s.serveObject)
}
