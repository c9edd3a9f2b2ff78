package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/testsentry/internal/services"
	"gorm.io/gorm"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(db *gorm.DB) *SystemConfigHandler {
	return &SystemConfigHandler{
		configService: services.NewSystemConfigService(db),
	}
}

func (h *SystemConfigHandler) GetEmailConfig(c *gin.Context) {
	config := h.configService.GetEmailConfig()
	c.JSON(http.StatusOK, config)
}

func (h *SystemConfigHandler) UpdateEmailConfig(c *gin.Context) {
	var req services.UpdateEmailConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.configService.UpdateEmailConfig(&req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, h.configService.GetEmailConfig())
}
