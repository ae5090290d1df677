// Package main is the entry point for the chat synchronization daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Batyrkajan/Amour/internal/config"
	"github.com/Batyrkajan/Amour/internal/handler"
	"github.com/Batyrkajan/Amour/internal/llm"
	"github.com/Batyrkajan/Amour/internal/middleware"
	natsclient "github.com/Batyrkajan/Amour/internal/nats"
	"github.com/Batyrkajan/Amour/internal/session"
	"github.com/Batyrkajan/Amour/internal/suggest"
	"github.com/Batyrkajan/Amour/pkg/cache"
	"github.com/Batyrkajan/Amour/pkg/logger"
	"github.com/Batyrkajan/Amour/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting chat daemon")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "amour-chatd", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to NATS
	client, err := natsclient.Connect(ctx, natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer client.Close()

	// Ensure the chat stream exists
	chatBackend := natsclient.NewBackend(client, log)
	if err := chatBackend.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Initialize the completion client
	var llmClient llm.Client
	if cfg.AnthropicAPIKey != "" && cfg.DefaultLLM != string(llm.ProviderOpenAI) {
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	} else if cfg.OpenAIAPIKey != "" {
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	}
	if err != nil {
		log.Warn("failed to create completion client, suggestions disabled", zap.Error(err))
		llmClient = nil
	}

	// The suggestion cache lives for the whole process, shared across
	// every conversation session.
	suggestionCache := cache.New[[]string](cfg.SuggestionCacheTTL)
	suggester := suggest.New(llmClient, suggestionCache, suggest.Options{
		MaxRetries:    cfg.SuggestionMaxRetries,
		RetryDelay:    cfg.SuggestionRetryDelay,
		Count:         cfg.SuggestionCount,
		MaxChars:      cfg.SuggestionMaxChars,
		HistoryWindow: cfg.SuggestionHistory,
		KeyWindow:     3,
	}, log)

	// Session manager
	manager := session.NewManager(chatBackend, chatBackend, suggester, session.Config{
		TypingDebounce: cfg.TypingDebounce,
		HistoryWindow:  cfg.SuggestionHistory,
	}, log)
	defer manager.CloseAll()

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(client)
	sessionHandler := handler.NewSessionHandler(manager, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations/{id}", func(r chi.Router) {
			// Session lifecycle
			r.Post("/session", sessionHandler.Open)
			r.Delete("/session", sessionHandler.Close)

			// Messages
			r.Get("/messages", sessionHandler.List)
			r.Post("/messages", sessionHandler.Send)
			r.Post("/messages/{messageID}/visible", sessionHandler.Visible)

			// Typing
			r.Post("/typing", sessionHandler.Typing)
			r.Delete("/typing", sessionHandler.TypingStop)

			// Suggestions
			r.Get("/suggestions", sessionHandler.Suggestions)

			// Streaming
			r.Get("/stream", sessionHandler.Stream)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
