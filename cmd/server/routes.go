package main

import (
	"github.com/gin-gonic/gin"
	"github.com/xmlangel/testcasecraft-sub009/internal/config"
	"github.com/xmlangel/testcasecraft-sub009/internal/handlers"
	"github.com/xmlangel/testcasecraft-sub009/internal/middleware"
	"github.com/xmlangel/testcasecraft-sub009/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))

	apiLimiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst)

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics())

	api := r.Group("/api", apiLimiter.Middleware(), middleware.AuthRequired())
	{
		status := api.Group("/issue-status")
		{
			status.GET("/projects/:project_id", svc.statusHandler.ProjectSummary)
			status.POST("/projects/:project_id/refresh", svc.statusHandler.RefreshProjectSummary)
			status.GET("/issues/:key", svc.statusHandler.IssueDetail)
			status.POST("/batch", svc.statusHandler.BatchSummary)
		}

		sync := api.Group("/issue-sync")
		{
			sync.GET("/stats", svc.syncHandler.Stats)
			sync.POST("/results/:id/retry", svc.syncHandler.Retry)
			sync.POST("/results/:id/link", svc.syncHandler.Link)
			sync.POST("/resync", svc.syncHandler.Resync)
			sync.POST("/executions/:id/summary", svc.syncHandler.PostExecutionSummary)

			// Forced sweeps touch every user's records.
			sync.POST("/sweeps/:kind", middleware.AdminRequired(), svc.syncHandler.RunSweep)
		}
	}
}
