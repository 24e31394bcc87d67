// Package main runs the reference automation backend the widget's webhook
// can point at during local development.
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

	"github.com/innovaquest/webchat/internal/automation"
	"github.com/innovaquest/webchat/internal/config"
	"github.com/innovaquest/webchat/internal/llm"
	"github.com/innovaquest/webchat/internal/middleware"
	natsclient "github.com/innovaquest/webchat/internal/nats"
	"github.com/innovaquest/webchat/pkg/logger"
	"github.com/innovaquest/webchat/pkg/tracing"
)

func main() {
	cfg := config.Load()

	log, err := logger.ForEnvironment(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting automation backend")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "webchat-automation", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Session history
	var history automation.History
	switch cfg.AutomationHistory {
	case "nats":
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
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
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		history = streamManager
	default:
		history = automation.NewMemoryHistory()
	}

	// Initialize LLM client
	llmClient := newLLMClient(cfg, log)

	svc := automation.NewService(history, llmClient, automation.Config{
		Greeting: cfg.AutomationGreeting,
		System:   cfg.AutomationPrompt,
		Model:    cfg.LLMModel,
	}, log)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/webhook", automation.NewHandler(svc, log))

	server := &http.Server{
		Addr:         ":" + cfg.AutomationPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.AutomationPort), zap.String("history", cfg.AutomationHistory))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newLLMClient prefers DEFAULT_LLM and falls back to whichever key is set.
// A nil client makes the backend echo.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	keys := map[llm.Provider]string{
		llm.ProviderAnthropic: cfg.AnthropicAPIKey,
		llm.ProviderOpenAI:    cfg.OpenAIAPIKey,
	}

	order := []llm.Provider{llm.Provider(cfg.DefaultLLM), llm.ProviderAnthropic, llm.ProviderOpenAI}
	for _, provider := range order {
		key := keys[provider]
		if key == "" {
			continue
		}
		client, err := llm.NewClient(provider, key)
		if err != nil {
			log.Warn("failed to create LLM client", zap.String("provider", string(provider)), zap.Error(err))
			continue
		}
		log.Info("LLM enabled", zap.String("provider", client.Name()))
		return client
	}

	log.Warn("no LLM API key configured, echoing messages")
	return nil
}
