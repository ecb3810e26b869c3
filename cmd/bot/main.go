package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/IanOtollo/whatsapp-ai-bot/cmd/mainconfig"
	appconfig "github.com/IanOtollo/whatsapp-ai-bot/internal/config"
	"github.com/IanOtollo/whatsapp-ai-bot/internal/conversation"
	"github.com/IanOtollo/whatsapp-ai-bot/internal/notify"
	"github.com/IanOtollo/whatsapp-ai-bot/internal/observability/metrics"
	"github.com/IanOtollo/whatsapp-ai-bot/internal/transport/webchat"
	"github.com/IanOtollo/whatsapp-ai-bot/pkg/logging"

	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
)

func main() {
	// .env is optional; production supplies real environment variables.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := buildStateStore(cfg, logger)
	llm := buildLLMClient(ctx, cfg, logger)
	queue := buildQueue(ctx, cfg, logger)

	publisher := conversation.NewPublisher(queue)
	chat := webchat.NewHandler(publisher, logger)
	notifier := notify.NewService(chat, logger)

	registry := prometheus.NewRegistry()
	convMetrics := metrics.NewConversationMetrics(registry)

	dispatcher := conversation.NewDispatcher(
		store,
		llm,
		chat,
		notifier,
		conversation.RouterOptions{
			Owners:         cfg.OwnerNumbers,
			PersonaPrompt:  cfg.PersonaPrompt,
			ReplySignature: cfg.ReplySignature,
		},
		logger,
		conversation.WithExcludedSenders(cfg.ExcludedNumbers),
		conversation.WithAssistantTimeout(cfg.AssistantTimeout),
		conversation.WithMetrics(convMetrics),
	)

	worker := conversation.NewWorker(dispatcher, queue, logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
	)
	worker.Start(ctx)

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Get("/webchat/ws", chat.HandleWebSocket)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("http server listening", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("worker stopped")
	case <-shutdownCtx.Done():
		logger.Error("worker shutdown timed out", "error", shutdownCtx.Err())
	}
}

func buildStateStore(cfg *appconfig.Config, logger *logging.Logger) conversation.StateStore {
	if cfg.UseMemoryStore || cfg.RedisAddr == "" {
		logger.Info("using in-memory conversation state store")
		return conversation.NewMemoryStateStore()
	}

	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)
	logger.Info("using redis conversation state store", "addr", cfg.RedisAddr, "ttl", cfg.StateTTL.String())
	return conversation.NewRedisStateStore(client, cfg.StateTTL)
}

func buildLLMClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) conversation.LLMClient {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("GEMINI_API_KEY not set; assistant replies will fall back to the apology text")
		return nil
	}

	primary, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}

	var fallback conversation.LLMClient
	if cfg.GeminiFallbackModelID != "" {
		fb, err := conversation.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiFallbackModelID)
		if err != nil {
			logger.Error("failed to create fallback gemini client", "error", err)
			os.Exit(1)
		}
		fallback = fb
	}

	return conversation.NewFallbackLLMClient(primary, fallback, logger)
}

func buildQueue(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) conversation.Queue {
	if cfg.UseMemoryQueue || cfg.InboundQueueURL == "" {
		logger.Info("using in-memory inbound queue")
		return conversation.NewMemoryQueue(0)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	logger.Info("using SQS inbound queue", "url", cfg.InboundQueueURL)
	return conversation.NewSQSQueue(awssqs.NewFromConfig(awsCfg), cfg.InboundQueueURL)
}
