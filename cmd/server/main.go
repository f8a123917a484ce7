package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/audience-engine/internal/api"
	"github.com/ignite/audience-engine/internal/cache"
	"github.com/ignite/audience-engine/internal/config"
	"github.com/ignite/audience-engine/internal/contacts"
	"github.com/ignite/audience-engine/internal/pkg/logger"
	"github.com/ignite/audience-engine/internal/scoring"
	"github.com/ignite/audience-engine/internal/segment"

	_ "github.com/lib/pq" // PostgreSQL driver
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	if cfg.Database.URL == "" {
		log.Fatal("database URL is not configured (set database.url or DATABASE_URL)")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	// Pre-flight: fail fast on an unreachable database rather than at the
	// first request.
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("Pre-flight check FAILED: database unreachable: %v", err)
	}
	cancelPing()
	log.Println("Pre-flight check passed: database reachable")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		// Cache misses are safe; the engine degrades to direct queries.
		logger.Warn("redis unreachable at startup, continuing without warm cache", "addr", cfg.Redis.Addr, "error", err.Error())
	}

	coordinator := cache.NewCoordinator(rdb, cache.TTLConfig{
		Contact: cfg.Cache.ContactTTL(),
		Search:  cfg.Cache.SearchTTL(),
		Stats:   cfg.Cache.StatsTTL(),
	}, cfg.Cache.SweepThreshold)

	limits := segment.Limits{
		MaxDepth:      cfg.Segmentation.MaxDepth,
		MaxConditions: cfg.Segmentation.MaxConditions,
		SampleCap:     cfg.Segmentation.SampleCap,
		IDListCap:     cfg.Segmentation.IDListCap,
		QueryTimeout:  cfg.Segmentation.QueryTimeout(),
	}

	segmentStore := segment.NewStore(db, segment.NewValidator(limits))
	evaluator := segment.NewEvaluator(db, limits, coordinator, segmentStore)
	contactStore := contacts.NewStore(db, coordinator)

	scoringCfg := scoring.DefaultConfig()
	if cfg.Scoring.WindowDays > 0 {
		scoringCfg.WindowDays = cfg.Scoring.WindowDays
	}
	if cfg.Scoring.HalfLifeDays > 0 {
		scoringCfg.HalfLifeDays = cfg.Scoring.HalfLifeDays
	}
	if cfg.Scoring.CalibrationCeiling > 0 {
		scoringCfg.CalibrationCeiling = cfg.Scoring.CalibrationCeiling
	}
	if cfg.Scoring.BatchWorkers > 0 {
		scoringCfg.BatchWorkers = cfg.Scoring.BatchWorkers
	}
	for name, weight := range cfg.Scoring.Weights {
		scoringCfg.Weights[scoring.ActivityType(name)] = weight
	}
	scores := scoring.NewEngine(db, coordinator, scoringCfg)

	server := api.NewServer(cfg.Server, segmentStore, evaluator, scores, contactStore)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("audience engine starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("audience engine stopped")
}
