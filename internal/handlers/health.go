package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/xmlangel/testcasecraft-sub009/internal/models"
	"github.com/xmlangel/testcasecraft-sub009/internal/services"
	"gorm.io/gorm"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct {
	db    *gorm.DB
	queue services.TaskQueue
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue) *HealthHandler {
	return &HealthHandler{db: db, queue: queue}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := 200

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}
	if overall != "healthy" {
		status = 503
	}

	queueMode := "in-process"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	var inProgress int64
	if dbStatus == "ok" {
		h.db.WithContext(c.Request.Context()).Model(&models.TestResult{}).
			Where("sync_status = ?", models.SyncStatusInProgress).
			Count(&inProgress)
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "testcasecraft-issue-sync",
		"components": gin.H{
			"database":          dbStatus,
			"queue_mode":        queueMode,
			"syncs_in_progress": inProgress,
		},
	})
}
