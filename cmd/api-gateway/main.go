package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/course-score-api/internal/handler"
	"github.com/noah-isme/course-score-api/internal/repository"
	"github.com/noah-isme/course-score-api/internal/service"
	"github.com/noah-isme/course-score-api/pkg/cache"
	"github.com/noah-isme/course-score-api/pkg/config"
	"github.com/noah-isme/course-score-api/pkg/database"
	"github.com/noah-isme/course-score-api/pkg/export"
	"github.com/noah-isme/course-score-api/pkg/jobs"
	"github.com/noah-isme/course-score-api/pkg/logger"
)

// @title Course Score API
// @version 1.0.0
// @description Raw scores, weighted final scores and rankings
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.RunMigrations(db.DB, logr); err != nil {
			logr.Fatal("migrations failed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := service.NewMetricsService()

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}

	var cacheRepo service.CacheRepository
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.String("addr", cache.Addr(cfg.Redis)), zap.Error(err))
		} else {
			defer func(c *redis.Client) { _ = c.Close() }(client)
			cacheRepo = repository.NewCacheRepository(client, logr)
			checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.WeightTTL, logr, cfg.Cache.Enabled && cacheRepo != nil)

	scoreRepo := repository.NewScoreRepository(db)
	weightRepo := repository.NewExamWeightRepository(db)
	finalRepo := repository.NewFinalScoreRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	validate := validator.New()
	weightSvc := service.NewExamWeightService(weightRepo, courseRepo, finalRepo, cacheSvc, cfg.Cache.WeightTTL, validate, logr)
	rankingSvc := service.NewRankingService(scoreRepo, finalRepo, cacheSvc, cfg.Cache.ClassRankingTTL, metrics, logr)
	finalSvc := service.NewFinalScoreService(scoreRepo, finalRepo, courseRepo, studentRepo, weightSvc, rankingSvc, metrics, logr)
	scoreSvc := service.NewScoreService(scoreRepo, studentRepo, courseRepo, rankingSvc, finalSvc,
		service.ScoreServiceConfig{ImportWorkers: cfg.Import.Workers, MaxImportRows: cfg.Import.MaxRows}, validate, metrics, logr)
	exportSvc := service.NewRankingExportService(scoreRepo, courseRepo, studentRepo, rankingSvc, finalSvc, export.NewRegistry(cfg.Export.PDFFontPath), logr)

	if cfg.Grading.SeedDefaultWeights {
		if n, err := weightSvc.SeedDefaults(ctx); err != nil {
			logr.Error("seeding default exam weights failed", zap.Error(err))
		} else if n > 0 {
			logr.Info("seeded default exam weights", zap.Int("count", n))
		}
	}

	recalcQueue := jobs.NewQueue("recalculation", service.NewRecalculationJobHandler(rankingSvc, finalSvc), jobs.QueueConfig{
		Workers:    cfg.Recalc.Workers,
		MaxRetries: cfg.Recalc.Retries,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	recalcQueue.Start(ctx)
	defer recalcQueue.Stop()

	router := newRouter(cfg, logr, routeDeps{
		scores:   scoreSvc,
		weights:  weightSvc,
		finals:   finalSvc,
		rankings: rankingSvc,
		exporter: exportSvc,
		queue:    recalcQueue,
		verifier: service.NewTokenVerifier(cfg.JWT.Secret),
		metrics:  metrics,
		checks:   checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
}
