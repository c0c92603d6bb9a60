package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/kotonoha/shadowing_service/internal/config"
	httphandler "github.com/kotonoha/shadowing_service/internal/handler/http"
	wshandler "github.com/kotonoha/shadowing_service/internal/handler/ws"
	"github.com/kotonoha/shadowing_service/internal/middleware"
	"github.com/kotonoha/shadowing_service/internal/service"
)

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(
	cfg *config.Config,
	log zerolog.Logger,
	healthHandler *httphandler.HealthHandler,
	authHandler *httphandler.AuthHandler,
	authService *service.AuthService,
	audioHandler *httphandler.AudioHandler,
	recordingHandler *httphandler.RecordingHandler,
	networkHandler *httphandler.NetworkHandler,
	hub *WebSocketHub,
	wsHandler *wshandler.Handler,
) *HTTPServer {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (public)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)

	// WebSocket progress stream
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		hub.HandleWebSocket(w, req, wsHandler)
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)

		// Connectivity state (public, the client polls this while offline)
		r.Get("/network/status", networkHandler.Status)

		// Protected endpoints (require JWT)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(authService))

			// Audio upload
			r.Post("/audio/upload", audioHandler.Upload)

			// Recording endpoints
			r.Get("/recordings", recordingHandler.List)
			r.Get("/recordings/{recordingID}", recordingHandler.Get)
			r.Delete("/recordings/{recordingID}", recordingHandler.Delete)
			r.Post("/recordings/{recordingID}/annotate", recordingHandler.Annotate)

			// Batch status endpoint
			r.Get("/batches/{batchID}", recordingHandler.GetBatchStatus)
		})
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &HTTPServer{
		server: server,
		log:    log,
	}
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
