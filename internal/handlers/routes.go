package handlers

import (
	"github.com/constructa/erp/backend/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Routes bundles what RegisterRoutes wires onto the engine.
type Routes struct {
	Configs *SystemConfigHandler
	Logs    *SystemLogHandler
	Health  *HealthHandler
	// Audit is optional; nil disables the audit trail.
	Audit middleware.AuditRecorder
	// WriteLimiter is optional; nil leaves write routes unlimited.
	WriteLimiter *middleware.RateLimiter
}

// RegisterRoutes mounts the settings API. Engine-wide middleware (logging,
// recovery, CORS) is the caller's job.
func RegisterRoutes(r *gin.Engine, rt Routes) {
	if rt.Health != nil {
		r.GET("/health", rt.Health.CheckHealth)
	}

	api := r.Group("/api")
	{
		// Public snapshot for login pages and unauthenticated shells
		api.GET("/public/settings", rt.Configs.GetPublicSettings)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		if rt.Audit != nil {
			protected.Use(middleware.AuditLog(rt.Audit))
		}
		{
			protected.GET("/system-config", rt.Configs.ListRecords)
			protected.GET("/settings", rt.Configs.GetSettings)
			protected.GET("/settings/modules/:name/enabled", rt.Configs.ModuleEnabled)
			protected.GET("/settings/permissions/:key", rt.Configs.CheckPermission)

			writes := protected.Group("")
			if rt.WriteLimiter != nil {
				writes.Use(rt.WriteLimiter.Middleware())
			}
			writes.PATCH("/settings", rt.Configs.UpdateSetting)
			writes.POST("/settings/batch", rt.Configs.BatchUpdate)

			admin := writes.Group("")
			admin.Use(middleware.AdminRequired())
			admin.POST("/settings/seed", rt.Configs.SeedDefaults)
			admin.POST("/settings/define", rt.Configs.DefineSetting)
			admin.DELETE("/settings/:module/:key", rt.Configs.DeleteSetting)
		}

		if rt.Logs != nil {
			protected.GET("/settings/audit", middleware.AdminRequired(), rt.Logs.List)
		}
	}
}
