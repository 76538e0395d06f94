package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/api"
	"github.com/verdantleaf/pos-catalog-sync/internal/cache"
	"github.com/verdantleaf/pos-catalog-sync/pkg/logger"
	redisPkg "github.com/verdantleaf/pos-catalog-sync/pkg/redis"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load() // Load .env file if it exists
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	appLogger, err := logger.New(&cfg.Logger)
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer appLogger.Sync()

	// 3. Connect to Redis
	rdb, err := redisPkg.New(&cfg.Redis)
	if err != nil {
		appLogger.Fatal("could not connect to redis", zap.Error(err))
	}
	defer rdb.Close()
	appLogger.Info("connected to redis")

	cacheStore := cache.NewStore(rdb, cfg.Sync.CacheTTL(), appLogger)
	handler := api.NewHandler(cacheStore, appLogger)

	port := cfg.Server.HTTPPort
	if !strings.HasPrefix(port, ":") {
		port = ":" + port
	}
	server := &http.Server{
		Addr:         port,
		Handler:      api.NewRouter(handler, appLogger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 4. Serve with graceful shutdown
	go func() {
		appLogger.Info("starting http server", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("shutdown failed", zap.Error(err))
	}
	appLogger.Info("server stopped")
}
