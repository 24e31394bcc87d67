// Package main is the entry point for the chat widget API server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/handler"
	"github.com/innovaquest/webchat/internal/middleware"
	"github.com/innovaquest/webchat/internal/service"
	"github.com/innovaquest/webchat/internal/session"
	"github.com/innovaquest/webchat/internal/storage"
	"github.com/innovaquest/webchat/internal/storage/backend"
	"github.com/innovaquest/webchat/internal/webhook"
	"github.com/innovaquest/webchat/pkg/logger"
	"github.com/innovaquest/webchat/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.ForEnvironment(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")
	if cfg.WidgetFileErr != nil {
		log.Warn("widget config file ignored, using defaults", zap.Error(cfg.WidgetFileErr))
	}

	// Initialize tracing if enabled
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "webchat-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Open conversation storage
	kv, closeStore, err := backend.Open(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open storage", zap.String("driver", cfg.StorageDriver), zap.Error(err))
		os.Exit(1)
	}
	defer closeStore()
	log.Info("storage ready", zap.String("driver", cfg.StorageDriver))

	// Initialize services
	transport := webhook.NewClient(cfg.Widget.Webhook, webhook.WithLogger(log))
	broker := service.NewBroker(log)
	conversationSvc := service.NewConversationService(kv, transport, cfg.Widget, broker, cfg.ManagerIdleTTL, log,
		session.WithResumeLatest(cfg.ResumeLatest),
		session.WithAllowedTypes(cfg.AllowedTypes),
		session.WithMaxFileSize(cfg.MaxUploadBytes),
	)
	messageSvc := service.NewMessageService(conversationSvc, log)
	go conversationSvc.Run(ctx)

	// Initialize handlers
	pinger, _ := kv.(storage.Pinger)
	healthHandler := handler.NewHealthHandler(pinger)
	visitorHandler := handler.NewVisitorHandler(cfg.JWTSecret, cfg.JWTExpiration, cfg.Widget, log)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, 5*cfg.MaxUploadBytes+1<<20, log)
	streamHandler := handler.NewStreamHandler(conversationSvc, broker, handler.DefaultHeartbeat, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Host page bootstrap
		r.Post("/visitors", visitorHandler.Create)
		r.Get("/widget/config", visitorHandler.WidgetConfig)

		// Visitor routes with authentication
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWTSecret))
			r.Use(middleware.VisitorRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Route("/session", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Post("/init", conversationHandler.Init)
				r.Post("/reset", conversationHandler.Reset)
				r.Post("/messages", messageHandler.Send)
				r.Get("/transcript", messageHandler.Transcript)
				r.Get("/events", streamHandler.Events)
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", conversationHandler.List)
				r.Post("/", conversationHandler.Create)
				r.Post("/{index}/load", conversationHandler.Load)
			})
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
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
