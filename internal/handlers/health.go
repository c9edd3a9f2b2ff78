package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/models"
	"github.com/huangang/testsentry/internal/services"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct{}

func NewHealthHandler() *HealthHandler {
	return &HealthHandler{}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"

	// Database check
	dbStatus := "ok"
	sqlDB, err := models.GetDB().DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}

	// Queue mode
	taskQueue := services.GetTaskQueue()
	queueMode := "sync"
	if taskQueue != nil && taskQueue.IsAsync() {
		queueMode = "async (Redis)"
	}

	// Live pending invitation count
	var pendingCount int64
	models.GetDB().Model(&models.Invitation{}).
		Where("status = ?", models.InvitationPending).
		Count(&pendingCount)

	c.JSON(200, gin.H{
		"status":  overall,
		"service": "testsentry",
		"components": gin.H{
			"database": dbStatus,
			"queue":    queueMode,
		},
		"pending_invitations": pendingCount,
	})
}
