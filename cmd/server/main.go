package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tanglemarket/trade-engine/internal/adapter/cache"
	"github.com/tanglemarket/trade-engine/internal/adapter/pg"
	"github.com/tanglemarket/trade-engine/internal/adapter/wallet"
	"github.com/tanglemarket/trade-engine/internal/api/http"
	"github.com/tanglemarket/trade-engine/internal/config"
	"github.com/tanglemarket/trade-engine/internal/core"
	"github.com/tanglemarket/trade-engine/internal/logging"
	"github.com/tanglemarket/trade-engine/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("failed to connect to Postgres", zap.Error(err))
	}
	defer dbpool.Close()
	repo := pg.NewRepository(dbpool)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	bookCache := cache.NewRedisCacheWithClient(rdb, cfg.BookCacheTTL)
	outbox := wallet.NewOutbox(rdb)

	met := metrics.New(prometheus.DefaultRegisterer)

	royalties := &core.RoyaltyConfig{
		DefaultPercentage:  cfg.RoyaltyPercentage,
		SpaceOnePercentage: cfg.SpaceOnePercentage,
		SpaceOneAddress:    cfg.SpaceOneAddress,
		SpaceTwoAddress:    cfg.SpaceTwoAddress,
	}
	rent := core.RentStructure{
		VByteCost:    cfg.VByteCost,
		VBFactorData: cfg.VBFactorData,
		VBFactorKey:  cfg.VBFactorKey,
	}
	builder := core.NewSettlementBuilder(royalties, rent, cfg.ExchangeAddress)
	engine := core.NewEngine(repo, bookCache, outbox, builder, logger, met)

	reaper := core.NewReaper(repo, builder, outbox, bookCache, logger, met, cfg.SweepInterval)
	go reaper.Run(ctx)

	server := http.NewHTTPServer(engine)
	logger.Info("starting HTTP server", zap.String("addr", cfg.ListenAddr))
	if err := server.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("HTTP server failed", zap.Error(err))
	}
}
