package router

import (
	"context"
	"log/slog"
	"net/http"

	"ecoswap/config"
	"ecoswap/internal/handler"
	"ecoswap/internal/matching"
	"ecoswap/internal/middleware"
	"ecoswap/internal/repository"
	"ecoswap/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Setup wires repositories, services and handlers. ctx bounds background
// housekeeping such as rate-limiter cleanup.
func Setup(ctx context.Context, cfg *config.Config, db *gorm.DB, client matching.Client, levels service.LevelTable, log *slog.Logger) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	limiter := middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go limiter.Cleanup(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID(), middleware.Observe(log))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	pointRepo := repository.NewPointRepository(db)

	// Services
	pointSvc := service.NewPointService(pointRepo, levels, log)
	proposalSvc := service.NewProposalService(client, cfg.Matching.MaxConcurrentLookups, log)
	settlementSvc := service.NewSettlementService(db, pointSvc, userRepo, client, cfg.Points.DefaultPointValue, service.RetryPolicy{
		MaxAttempts: cfg.Points.SettleAttempts,
		Delay:       cfg.Points.SettleDelay,
		Multiplier:  cfg.Points.SettleMultiplier,
	}, log)

	// Handlers
	pointHandler := handler.NewPointHandler(pointSvc, userRepo)
	notificationHandler := handler.NewNotificationHandler(proposalSvc, settlementSvc, client, log)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMw := middleware.AuthRequired(&cfg.JWT)
	rateMw := middleware.RateLimit(limiter)

	api := r.Group("/api/v1")
	{
		points := api.Group("/points")
		{
			points.GET("/me", authMw, pointHandler.Me)
			points.GET("/me/history", authMw, pointHandler.History)
			points.GET("/me/history/all", authMw, pointHandler.AllHistory)
			points.POST("/grant", middleware.AdminKeyRequired(cfg.Points.AdminAPIKey), pointHandler.Grant)
		}

		notifications := api.Group("/notifications")
		notifications.Use(authMw, rateMw)
		{
			notifications.GET("", notificationHandler.List)
			notifications.POST("/confirm", notificationHandler.Confirm)
			notifications.POST("/settle", notificationHandler.Settle)
			notifications.POST("/iwant", notificationHandler.ManualMatch)
		}
	}

	return r
}
