package main

import (
	"github.com/constructa/erp/backend/internal/handlers"
	"github.com/constructa/erp/backend/internal/middleware"
	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes installs engine-wide middleware, then the settings API.
func registerRoutes(r *gin.Engine, app *appServices) {
	r.Use(middleware.RequestID(), logger.GinLogger("/health"), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	handlers.RegisterRoutes(r, app.routes)
}
