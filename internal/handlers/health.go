package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler reports whether the service can reach its database.
type HealthHandler struct {
	db        *gorm.DB
	cacheMode string
}

func NewHealthHandler(db *gorm.DB, cacheMode string) *HealthHandler {
	return &HealthHandler{db: db, cacheMode: cacheMode}
}

// CheckHealth returns the health status of all subsystems.
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error: " + err.Error()
	}
	if dbStatus != "ok" {
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "erp-config",
		"components": gin.H{
			"database": dbStatus,
			"cache":    h.cacheMode,
		},
	})
}
