// Package main is the entry point for the agentcore server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/babblebuddy/agentcore/internal/api"
	"github.com/babblebuddy/agentcore/internal/auth"
	"github.com/babblebuddy/agentcore/internal/cache"
	"github.com/babblebuddy/agentcore/internal/config"
	"github.com/babblebuddy/agentcore/internal/embedding"
	"github.com/babblebuddy/agentcore/internal/memory"
	"github.com/babblebuddy/agentcore/internal/observability"
	"github.com/babblebuddy/agentcore/internal/orchestrator"
	"github.com/babblebuddy/agentcore/internal/prompt"
	"github.com/babblebuddy/agentcore/internal/secret"
	"github.com/babblebuddy/agentcore/internal/secret/env"
	"github.com/babblebuddy/agentcore/internal/secret/vault"
	"github.com/babblebuddy/agentcore/internal/session"
	"github.com/babblebuddy/agentcore/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	redactor := observability.NewRedactor()
	logger := observability.NewLogger(observability.LoggerConfig{
		Level:      observability.ParseLevel(cfg.Logging.Level),
		Output:     os.Stdout,
		JSONFormat: cfg.Logging.Format != "text",
	}, redactor)

	logger.Info("starting agentcore", "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Config hot reload is best-effort; the service keeps the boot config
	// when watching fails.
	if *configPath != "" {
		cfgManager, err := config.NewManager(*configPath, logger.Slog())
		if err == nil {
			if err := cfgManager.Watch(ctx); err != nil {
				logger.Warn("config hot-reload disabled", "error", err.Error())
			}
			defer cfgManager.Close()
		}
	}

	// Secret resolution: env:// and vault:// references, plus static values.
	secrets := secret.NewManager()
	secrets.Register("env", secret.NewCachedProvider(env.New(), 5*time.Minute))
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		vaultProvider, err := vault.New(vault.Config{
			Address:  addr,
			Token:    os.Getenv("VAULT_TOKEN"),
			RoleID:   os.Getenv("VAULT_ROLE_ID"),
			SecretID: os.Getenv("VAULT_SECRET_ID"),
		})
		if err != nil {
			logger.Warn("vault provider unavailable", "error", err.Error())
		} else {
			secrets.Register("vault", secret.NewCachedProvider(vaultProvider, 5*time.Minute))
		}
	}
	defer secrets.Close()

	box := buildBox(ctx, cfg, secrets, logger)

	// Store selection: Postgres when configured, otherwise in-memory.
	var st store.Store
	if cfg.Database.Enabled {
		pg, err := store.NewPostgresStore(store.PostgresConfig{DSN: cfg.Database.DSN()})
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err.Error())
			os.Exit(1)
		}
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err.Error())
			os.Exit(1)
		}
		st = pg
		logger.Info("using postgres store", "host", cfg.Database.Host)
	} else {
		st = store.NewMemoryStore()
		logger.Info("using in-memory store")
	}
	defer st.Close()

	embedCache, err := cache.NewEmbeddingCache(cfg.EmbeddingCache.MaxSize, cfg.EmbeddingCache.TTL)
	if err != nil {
		logger.Error("failed to create embedding cache", "error", err.Error())
		os.Exit(1)
	}
	embedder := embedding.NewCachedEmbedder(
		embedding.NewOllamaEmbedder(cfg.Ollama.Host, cfg.Ollama.EmbeddingModel),
		embedCache,
	)

	recall := memory.NewRecallEngine(st, embedder, memory.EngineConfig{
		RecallLimit:             cfg.Memory.RecallLimit,
		MinSimilarity:           cfg.Memory.MinSimilarity,
		HighImportanceThreshold: cfg.Memory.HighImportanceThreshold,
		AlwaysInjectHigh:        cfg.Memory.AlwaysInjectHighImportance,
	})

	extractor := memory.NewExtractor(
		st,
		memory.NewOllamaCompletionClient(cfg.Ollama.Host, cfg.Memory.Extraction.Model),
		embedder,
		logger,
		cfg.Memory.Extraction.BatchSize,
	)

	metrics := observability.NewMetrics()

	tracerProvider, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err.Error())
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = tracerProvider.Shutdown(shutdownCtx)
	}()

	responseCache := buildResponseCache(ctx, cfg, logger)
	if responseCache != nil {
		defer responseCache.Close()
	}

	orch := orchestrator.New(st, box, logger, orchestrator.Options{
		OllamaHost:    cfg.Ollama.Host,
		ResponseCache: responseCache,
		CacheTTL:      cfg.ResponseCache.TTL,
		Metrics:       metrics,
		Tracer:        tracerProvider.Tracer(),
	})
	defer orch.Close()

	sessions := session.NewManager(cfg.Sessions.MaxSessions)
	composer := prompt.NewComposer(prompt.ParseStyle(cfg.Prompt.DefaultStyle), cfg.Prompt.Personas)

	authMW := auth.NewMiddleware(st, logger, nil)
	var limiter *auth.TenantRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = auth.NewTenantRateLimiter(auth.RateLimiterConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.BurstSize,
		})
	}

	handler := api.NewHandler(api.Config{
		Cfg:       cfg,
		Logger:    logger,
		Store:     st,
		Sessions:  sessions,
		Composer:  composer,
		Recall:    recall,
		Extractor: extractor,
		Orch:      orch,
		Embedder:  embedder,
		Box:       box,
		Metrics:   metrics,
		AuthMW:    authMW,
		Limiter:   limiter,
	})
	defer handler.Close()

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      observability.RequestIDMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("server listening", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}

	logger.Info("server stopped")
}

// buildBox resolves the encryption key through the secret manager. Without
// a configured key an ephemeral one is used, so encrypted agent credentials
// do not survive restarts.
func buildBox(ctx context.Context, cfg *config.Config, secrets *secret.Manager, logger *observability.Logger) *secret.Box {
	if cfg.Encryption.Key != "" {
		key, err := secrets.Get(ctx, cfg.Encryption.Key)
		if err != nil {
			logger.Error("failed to resolve encryption key", "error", err.Error())
			os.Exit(1)
		}
		box, err := secret.NewBox(key)
		if err != nil {
			logger.Error("invalid encryption key", "error", err.Error())
			os.Exit(1)
		}
		return box
	}

	box, err := secret.NewEphemeralBox()
	if err != nil {
		logger.Error("failed to create encryption box", "error", err.Error())
		os.Exit(1)
	}
	logger.Warn("no encryption key configured, agent credentials will not survive restarts")
	return box
}

// buildResponseCache creates the optional response cache backend.
func buildResponseCache(ctx context.Context, cfg *config.Config, logger *observability.Logger) cache.ResponseCache {
	if !cfg.ResponseCache.Enabled {
		return nil
	}

	switch cfg.ResponseCache.Backend {
	case "redis":
		rc, err := cache.NewRedisResponseCache(ctx, cfg.ResponseCache.RedisAddr)
		if err != nil {
			logger.Warn("redis response cache unavailable, falling back to memory", "error", err.Error())
			return cache.NewMemoryResponseCache(cfg.ResponseCache.TTL)
		}
		return rc
	default:
		return cache.NewMemoryResponseCache(cfg.ResponseCache.TTL)
	}
}
