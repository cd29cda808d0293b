package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/constructa/erp/backend/internal/middleware"
	"github.com/constructa/erp/backend/internal/services"
	"github.com/constructa/erp/backend/pkg/configvalue"
	"github.com/constructa/erp/backend/pkg/response"
	"github.com/gin-gonic/gin"
)

type SystemConfigHandler struct {
	configService *services.SystemConfigService
}

func NewSystemConfigHandler(configService *services.SystemConfigService) *SystemConfigHandler {
	return &SystemConfigHandler{configService: configService}
}

type UpdateSettingRequest struct {
	Module string          `json:"module" binding:"required"`
	Key    string          `json:"key" binding:"required"`
	Value  json.RawMessage `json:"value" binding:"required"`
}

// BatchEntry is not validated by binding; malformed entries are skipped.
type BatchEntry struct {
	Module string          `json:"module"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value"`
}

type BatchUpdateRequest struct {
	Settings []BatchEntry `json:"settings" binding:"required"`
}

type DefineSettingRequest struct {
	Module      string          `json:"module" binding:"required"`
	Key         string          `json:"key" binding:"required"`
	Type        string          `json:"type" binding:"required"`
	Value       json.RawMessage `json:"value"`
	Label       string          `json:"label"`
	Description string          `json:"description"`
	IsPublic    bool            `json:"is_public"`
}

// decodeValue turns a raw JSON request value into a config value.
func decodeValue(raw json.RawMessage) (configvalue.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, response.NewBadRequest("invalid value")
	}
	return configvalue.FromNative(v), nil
}

func updatedBy(c *gin.Context) string {
	if id := middleware.GetUserID(c); id > 0 {
		return fmt.Sprint(id)
	}
	return "system"
}

// ListRecords returns raw records, optionally filtered by ?module=.
func (h *SystemConfigHandler) ListRecords(c *gin.Context) {
	configs, err := h.configService.ListRecords(c.Request.Context(), c.Query("module"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"configs": configs, "count": len(configs)})
}

// GetSettings returns decoded settings grouped by module, or one module's
// settings when ?module= is given.
func (h *SystemConfigHandler) GetSettings(c *gin.Context) {
	all, err := h.configService.GetAllConfigs(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}

	if module := c.Query("module"); module != "" {
		entries, ok := all[module]
		if !ok {
			entries = map[string]services.ConfigEntry{}
		}
		response.Success(c, gin.H{"configs": entries})
		return
	}
	response.Success(c, gin.H{"configs": all})
}

// GetPublicSettings serves the settings flagged public without authentication.
func (h *SystemConfigHandler) GetPublicSettings(c *gin.Context) {
	configs, err := h.configService.GetPublicConfigs(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"configs": configs})
}

// UpdateSetting rewrites one existing setting.
func (h *SystemConfigHandler) UpdateSetting(c *gin.Context) {
	var req UpdateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "module, key and value are required")
		return
	}
	value, err := decodeValue(req.Value)
	if err != nil {
		fail(c, err)
		return
	}

	rec, err := h.configService.UpdateConfig(c.Request.Context(), req.Module, req.Key, value, updatedBy(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"config":  rec,
		"message": "Setting updated",
	})
}

// BatchUpdate applies several updates; missing settings are skipped.
func (h *SystemConfigHandler) BatchUpdate(c *gin.Context) {
	var req BatchUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "settings must be a list of {module, key, value}")
		return
	}

	updates := make([]services.SettingUpdate, 0, len(req.Settings))
	for _, s := range req.Settings {
		if len(s.Value) == 0 {
			continue
		}
		value, err := decodeValue(s.Value)
		if err != nil {
			fail(c, err)
			return
		}
		updates = append(updates, services.SettingUpdate{Module: s.Module, Key: s.Key, Value: value})
	}

	updated, err := h.configService.BatchUpdate(c.Request.Context(), updates, updatedBy(c))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"updated": updated,
		"message": fmt.Sprintf("%d settings updated", updated),
	})
}

// SeedDefaults inserts the default settings into an empty store.
func (h *SystemConfigHandler) SeedDefaults(c *gin.Context) {
	result, err := h.configService.SeedDefaults(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	if !result.Seeded {
		response.Success(c, gin.H{
			"count":   result.Existing,
			"version": result.Version,
			"message": "Settings already exist",
		})
		return
	}
	response.Success(c, gin.H{
		"created": result.Created,
		"version": result.Version,
		"message": "Default settings created",
	})
}

// DefineSetting creates a setting with an explicit type.
func (h *SystemConfigHandler) DefineSetting(c *gin.Context) {
	var req DefineSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "module, key and type are required")
		return
	}
	typ, ok := configvalue.ParseType(req.Type)
	if !ok {
		response.BadRequest(c, fmt.Sprintf("unknown type %q", req.Type))
		return
	}
	value, err := decodeValue(req.Value)
	if err != nil {
		fail(c, err)
		return
	}

	rec, err := h.configService.DefineConfig(c.Request.Context(), services.ConfigDefinition{
		Module:      req.Module,
		Key:         req.Key,
		Value:       value,
		Type:        typ,
		Label:       req.Label,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		UpdatedBy:   updatedBy(c),
	})
	if err != nil {
		fail(c, err)
		return
	}
	response.Created(c, gin.H{
		"config":  rec,
		"message": "Setting created",
	})
}

// DeleteSetting removes one setting.
func (h *SystemConfigHandler) DeleteSetting(c *gin.Context) {
	module, key := c.Param("module"), c.Param("key")
	if err := h.configService.DeleteConfig(c.Request.Context(), module, key); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": fmt.Sprintf("Setting %s.%s deleted", module, key)})
}

// ModuleEnabled reports whether a feature module is enabled.
func (h *SystemConfigHandler) ModuleEnabled(c *gin.Context) {
	name := c.Param("name")
	enabled, err := h.configService.IsModuleEnabled(c.Request.Context(), name)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"module": name, "enabled": enabled})
}

// CheckPermission reports whether the caller's role holds a permission.
func (h *SystemConfigHandler) CheckPermission(c *gin.Context) {
	key := c.Param("key")
	role := middleware.GetRole(c)
	allowed, err := h.configService.HasPermission(c.Request.Context(), key, role)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, gin.H{"permission": key, "role": role, "allowed": allowed})
}
