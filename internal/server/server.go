// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"spark/internal/config"
	"spark/internal/metrics"
	"spark/internal/server/handlers"
)

// Dependencies are the services the HTTP surface drives
type Dependencies struct {
	Sparks    handlers.SparkService
	Locations handlers.LocationRecorder
	Queue     handlers.LocationEnqueuer
	Limiter   *handlers.LocationLimiter

	// Events is optional; without it the websocket stream is not mounted
	Events            handlers.Subscriber
	UserSubjectPrefix string

	Logger *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	router *chi.Mux
}

// NewServer creates a new HTTP server
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CorsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Create handler dependencies
	sparkHandler := handlers.NewSparkHandler(deps.Sparks, deps.Logger)
	locationHandler := handlers.NewLocationHandler(deps.Locations, deps.Queue, deps.Limiter, deps.Logger)

	// Routes
	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		// Health check
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		// API version
		r.Route("/v1", func(r chi.Router) {
			r.Post("/locations", locationHandler.UpdateLocation)

			// Sparks API
			r.Route("/sparks", func(r chi.Router) {
				r.Get("/", sparkHandler.ListSparks)
				r.Post("/", sparkHandler.SendSpark)
				r.Get("/{id}", sparkHandler.GetSpark)
				r.Post("/{id}/respond", sparkHandler.RespondToSpark)
				r.Get("/{id}/chat-room", sparkHandler.GetChatRoom)
			})
		})
	})

	router.Handle("/metrics", metrics.Handler())

	// WebSocket endpoint for live spark events
	if deps.Events != nil {
		router.Get("/ws/sparks", handlers.SparkWebSocketHandler(deps.Events, deps.UserSubjectPrefix, deps.Logger))
	}

	// Create HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return &Server{
		server: httpServer,
		router: router,
	}
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
