package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-score-api/api/swagger"
	"github.com/noah-isme/course-score-api/internal/handler"
	"github.com/noah-isme/course-score-api/internal/middleware"
	"github.com/noah-isme/course-score-api/internal/models"
	"github.com/noah-isme/course-score-api/internal/service"
	"github.com/noah-isme/course-score-api/pkg/config"
	"github.com/noah-isme/course-score-api/pkg/jobs"
	"github.com/noah-isme/course-score-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-score-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-score-api/pkg/middleware/requestid"
)

type routeDeps struct {
	scores   *service.ScoreService
	weights  *service.ExamWeightService
	finals   *service.FinalScoreService
	rankings *service.RankingService
	exporter *service.RankingExportService
	queue    *jobs.Queue
	verifier middleware.TokenVerifier
	metrics  *service.MetricsService
	checks   map[string]handler.ReadinessCheck
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS))
	r.Use(middleware.Metrics(deps.metrics))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(deps.metrics, deps.checks)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	scoreHandler := handler.NewScoreHandler(deps.scores)
	weightHandler := handler.NewExamWeightHandler(deps.weights)
	finalHandler := handler.NewFinalScoreHandler(deps.finals, deps.queue)
	rankingHandler := handler.NewRankingHandler(deps.rankings, deps.exporter)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := middleware.RequireRoles(models.RoleAdmin)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(deps.verifier, cfg.JWT.Enabled))

	scores := api.Group("/scores")
	scores.GET("", scoreHandler.List)
	scores.GET("/:id", scoreHandler.Get)
	scores.POST("", staff, scoreHandler.Create)
	scores.PUT("/:id", staff, scoreHandler.Update)
	scores.DELETE("/:id", staff, scoreHandler.Delete)
	scores.POST("/import", staff, scoreHandler.Import)
	scores.POST("/import/xlsx", staff, scoreHandler.ImportXLSX)

	weights := api.Group("/exam-weights")
	weights.GET("", weightHandler.List)
	weights.POST("", admin, weightHandler.Create)
	weights.PUT("/:id", admin, weightHandler.Update)
	weights.DELETE("/:id", admin, weightHandler.Delete)
	api.GET("/courses/:id/weights", weightHandler.CourseWeights)

	finals := api.Group("/final-scores", staff)
	finals.POST("/course", finalHandler.Course)
	finals.POST("/student", finalHandler.Student)
	finals.POST("/all", finalHandler.All)
	api.GET("/jobs/:id", staff, finalHandler.JobStatus)

	rankings := api.Group("/rankings")
	rankings.POST("/course", staff, rankingHandler.Course)
	rankings.POST("/recalculate", staff, rankingHandler.Recalculate)
	rankings.GET("/class/:className", rankingHandler.Class)
	rankings.GET("/course/:courseId/export", rankingHandler.Export)
	api.GET("/students/:id/transcript/export", rankingHandler.Transcript)

	return r
}
