package handlers

import (
	"github.com/constructa/erp/backend/internal/services"
	"github.com/constructa/erp/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type SystemLogHandler struct {
	systemLogService *services.SystemLogService
}

func NewSystemLogHandler(systemLogService *services.SystemLogService) *SystemLogHandler {
	return &SystemLogHandler{systemLogService: systemLogService}
}

// List returns the settings audit trail, newest first.
func (h *SystemLogHandler) List(c *gin.Context) {
	var req services.SystemLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, "invalid pagination parameters")
		return
	}

	resp, err := h.systemLogService.List(c.Request.Context(), &req)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"total":     resp.Total,
		"page":      resp.Page,
		"page_size": resp.PageSize,
		"items":     resp.Items,
	})
}
