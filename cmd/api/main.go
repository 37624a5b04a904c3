package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"storyforge/api/internal/app"
	"storyforge/api/internal/auth"
	"storyforge/api/internal/config"
	"storyforge/api/internal/identity"
	"storyforge/api/internal/llm"
	"storyforge/api/internal/store"
)

func main() {
	cfg := config.Load()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	verifier, err := auth.NewVerifier(auth.Config{
		Domain:   cfg.AuthDomain,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		log.Fatalf("token verifier setup failed: %v", err)
	}
	userinfo, err := auth.NewUserinfoClient(cfg.AuthDomain, nil)
	if err != nil {
		log.Fatalf("userinfo client setup failed: %v", err)
	}

	var profileCache identity.ProfileCache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for the profile cache")
		redisCache, err := identity.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		profileCache = redisCache
	} else {
		logger.Info("using in-memory profile cache")
		profileCache = identity.NewMemoryCache()
	}
	cacheTTL := time.Duration(cfg.UserinfoCacheSeconds) * time.Second
	resolver := identity.NewResolver(verifier, userinfo, profileCache, cacheTTL, logger)

	model, err := llm.NewGemini(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	if err != nil {
		log.Fatalf("gemini client setup failed: %v", err)
	}
	defer model.Close()

	service := app.NewService(cfg, dataStore, model, resolver, logger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	// No WriteTimeout: generation endpoints wait on the model and may
	// legitimately run past any fixed deadline.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("storyforge api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	service.DrainMaintenance()
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
