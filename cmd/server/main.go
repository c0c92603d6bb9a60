package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kotonoha/shadowing_service/internal/client"
	"github.com/kotonoha/shadowing_service/internal/config"
	"github.com/kotonoha/shadowing_service/internal/handler/http"
	"github.com/kotonoha/shadowing_service/internal/handler/ws"
	"github.com/kotonoha/shadowing_service/internal/logger"
	"github.com/kotonoha/shadowing_service/internal/repository"
	"github.com/kotonoha/shadowing_service/internal/resilience"
	"github.com/kotonoha/shadowing_service/internal/server"
	"github.com/kotonoha/shadowing_service/internal/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().Str("env", cfg.Environment).Msg("Starting shadowing_service")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Groq client (transcription + annotation)
	if cfg.GroqAPIKey == "" {
		log.Fatal().Msg("GROQ_API_KEY is required")
	}
	groqClient := client.NewGroqClient(cfg.GroqAPIKey, cfg.GroqBaseURL, cfg.GroqWhisperModel, cfg.GroqChatModel)
	log.Info().Str("whisper_model", cfg.GroqWhisperModel).Str("chat_model", cfg.GroqChatModel).Msg("Groq client initialized")

	// Initialize Gemini client (annotation fallback)
	var geminiClient *client.GeminiClient
	if cfg.GCPProjectID != "" {
		if cfg.GeminiSAPath != "" {
			geminiClient, err = client.NewGeminiClientWithServiceAccount(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.GeminiSAPath)
		} else {
			geminiClient, err = client.NewGeminiClient(ctx, cfg.GCPProjectID, cfg.GCPLocation)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Gemini client, annotation fallback disabled")
			geminiClient = nil
		} else {
			log.Info().Str("project_id", cfg.GCPProjectID).Msg("Gemini client initialized")
		}
	} else {
		log.Warn().Msg("GCP_PROJECT_ID not set, annotation fallback disabled")
	}

	// Initialize Redis client (batch status tracking)
	var redisClient *client.RedisClient
	if cfg.RedisURL != "" {
		redisClient, err = client.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Redis client")
		} else {
			log.Info().Msg("Redis client initialized")
		}
	} else {
		log.Warn().Msg("REDIS_URL not set, batch status tracking disabled")
	}

	// Initialize object storage backend
	var objectStore client.ObjectStore
	switch cfg.StorageBackend {
	case "gcs":
		gcsClient, err := client.NewGCSClient(ctx, cfg.GCSBucketName)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize GCS client")
		}
		defer gcsClient.Close()
		objectStore = gcsClient
		log.Info().Str("bucket", cfg.GCSBucketName).Msg("GCS storage initialized")
	default:
		r2Client, err := client.NewR2Client(ctx,
			cfg.CloudflareAccessKeyID,
			cfg.CloudflareSecretKey,
			cfg.CloudflareR2Endpoint,
			cfg.CloudflareBucketName,
			cfg.CloudflarePublicURL,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Cloudflare R2 client")
		}
		objectStore = r2Client
		log.Info().Str("bucket", cfg.CloudflareBucketName).Msg("Cloudflare R2 storage initialized")
	}

	// Initialize Postgres client
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}
	postgresClient, err := client.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Postgres client")
	}
	log.Info().Msg("Postgres client initialized")

	// Initialize Pub/Sub lifecycle events (optional)
	var events service.EventPublisher
	if cfg.GCPProjectID != "" && cfg.PubSubTopicID != "" {
		pubsubClient, err := client.NewPubSubClient(ctx, cfg.GCPProjectID, cfg.PubSubTopicID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize Pub/Sub client, lifecycle events disabled")
		} else {
			defer pubsubClient.Close()
			events = pubsubClient
			log.Info().Str("topic", cfg.PubSubTopicID).Msg("Pub/Sub client initialized")
		}
	}

	// Initialize network resilience layer
	policy := resilience.Policy{
		MaxAttempts:         cfg.RetryMaxAttempts,
		InitialInterval:     cfg.RetryInitialInterval,
		MaxInterval:         cfg.RetryMaxInterval,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
	resilienceManager := resilience.NewManager(policy, cfg.ProbeURL, cfg.ProbeInterval, log)
	resilienceManager.Start(ctx)
	defer resilienceManager.Stop()

	// Initialize repositories
	recordingRepo := repository.NewPostgresRecordingRepository(postgresClient)
	userRepo := repository.NewPostgresUserRepository(postgresClient)

	// Initialize services
	authService := service.NewAuthService(userRepo, cfg.JWTSecret)
	batchService := service.NewBatchService(redisClient, log)

	var fallback service.ChatCompleter
	if geminiClient != nil {
		fallback = geminiClient
	}
	annotationService := service.NewAnnotationService(groqClient, fallback, log)

	transcriptionService := service.NewTranscriptionService(
		recordingRepo,
		objectStore,
		groqClient,
		annotationService,
		batchService,
		resilienceManager,
		events,
		log,
	)

	// Initialize WebSocket hub, push batch progress to connected clients
	hub := server.NewWebSocketHub(log)
	go hub.Run(ctx)
	wsHandler := ws.NewHandler(log)
	batchService.SetBroadcaster(func(v interface{}) {
		if msg := wsHandler.Progress(v); msg != nil {
			hub.Broadcast(msg)
		}
	})

	// Initialize handlers
	healthHandler := http.NewHealthHandler()
	authHandler := http.NewAuthHandler(log, authService)
	audioHandler := http.NewAudioHandler(log, transcriptionService, cfg.MaxUploadBytes)
	recordingHandler := http.NewRecordingHandler(log, transcriptionService, batchService)
	networkHandler := http.NewNetworkHandler(resilienceManager, hub)

	// Initialize HTTP server
	httpServer := server.NewHTTPServer(
		cfg, log,
		healthHandler,
		authHandler, authService,
		audioHandler, recordingHandler, networkHandler,
		hub, wsHandler,
	)

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			log.Error().Err(err).Msg("HTTP server error")
			cancel()
		}
	}()

	log.Info().
		Str("http_addr", cfg.HTTPAddress()).
		Msg("Server started")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Close clients
	if geminiClient != nil {
		geminiClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
	postgresClient.Close()

	log.Info().Msg("Server stopped")
}
