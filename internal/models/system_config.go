package models

import (
	"time"

	"github.com/constructa/erp/backend/pkg/configvalue"
)

// ConfigRecord is one dynamic setting. (Module, Key) is unique; Value is always
// text and is decoded according to Type.
type ConfigRecord struct {
	ID          uint                   `gorm:"primaryKey" json:"id"`
	Module      string                 `gorm:"column:module;size:100;not null;uniqueIndex:idx_system_configs_module_key,priority:1" json:"module"`
	Key         string                 `gorm:"column:config_key;size:100;not null;uniqueIndex:idx_system_configs_module_key,priority:2" json:"key"`
	Value       string                 `gorm:"type:text" json:"value"`
	Type        configvalue.ConfigType `gorm:"size:20;not null;default:STRING" json:"type"`
	Label       string                 `gorm:"size:200;not null" json:"label"`
	Description string                 `gorm:"size:1000" json:"description"`
	IsPublic    bool                   `gorm:"default:false" json:"is_public"`
	UpdatedBy   string                 `gorm:"size:100" json:"updated_by"` // user id or "system"
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

func (ConfigRecord) TableName() string { return "system_configs" }

// Decoded returns the typed value of the record.
func (r *ConfigRecord) Decoded() configvalue.Value {
	return configvalue.Decode(r.Value, r.Type)
}
