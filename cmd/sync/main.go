package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/verdantleaf/pos-catalog-sync/config"
	"github.com/verdantleaf/pos-catalog-sync/internal/cache"
	"github.com/verdantleaf/pos-catalog-sync/internal/retry"
	"github.com/verdantleaf/pos-catalog-sync/internal/sink"
	sinkRepoPkg "github.com/verdantleaf/pos-catalog-sync/internal/sink/repository"
	"github.com/verdantleaf/pos-catalog-sync/internal/sink/rest"
	"github.com/verdantleaf/pos-catalog-sync/internal/source"
	"github.com/verdantleaf/pos-catalog-sync/internal/store"
	storeRepoPkg "github.com/verdantleaf/pos-catalog-sync/internal/store/repository"
	syncPkg "github.com/verdantleaf/pos-catalog-sync/internal/sync"
	"github.com/verdantleaf/pos-catalog-sync/pkg/logger"
	"github.com/verdantleaf/pos-catalog-sync/pkg/postgres"
	redisPkg "github.com/verdantleaf/pos-catalog-sync/pkg/redis"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load() // Load .env file if it exists
	cfg := config.LoadEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(&cfg.Logger)
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer appLogger.Sync()

	policy := retry.DefaultPolicy()

	// 3. Pick the sink write path: direct SQL when a database is configured,
	// otherwise the REST collection API.
	var (
		writer sink.Writer
		roster store.Repository
	)
	if cfg.Sink.DatabaseURL != "" {
		db, err := postgres.New(&cfg.Sink)
		if err != nil {
			appLogger.Fatal("could not connect to sink database", zap.Error(err))
		}
		defer db.Close()
		appLogger.Info("connected to sink database")

		writer = sinkRepoPkg.NewPGWriter(db, &cfg.Sync, policy, appLogger)
		roster = storeRepoPkg.NewPGRepository(db)
	} else {
		client := rest.NewClient(&cfg.Sink, policy, appLogger)
		appLogger.Info("using sink collection api", zap.String("url", cfg.Sink.RESTURL))

		writer = rest.NewWriter(client, &cfg.Sync, appLogger)
		roster = storeRepoPkg.NewRESTRepository(client)
	}

	// 4. Initialize Redis cache (optional)
	var promoCache syncPkg.PromotionCache
	if cfg.Redis.Enabled {
		rdb, err := redisPkg.New(&cfg.Redis)
		if err != nil {
			appLogger.Warn("could not connect to redis, caching disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			appLogger.Info("connected to redis")
			promoCache = cache.NewStore(rdb, cfg.Sync.CacheTTL(), appLogger)
		}
	}

	// 5. Initialize provider client and orchestrator
	src := source.NewClient(&cfg.Source, policy, appLogger)
	orchestrator := syncPkg.NewOrchestrator(roster, src, promoCache, writer, cfg.Sync.Interval(), appLogger)

	// 6. Run until finished or signalled
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orchestrator.RunForever(ctx); err != nil && ctx.Err() == nil {
		appLogger.Fatal("sync stopped", zap.Error(err))
	}
	appLogger.Info("sync finished")
}
