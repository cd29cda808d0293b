package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/constructa/erp/backend/internal/models"
	"github.com/constructa/erp/backend/pkg/configvalue"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertFields describes a write through ConfigStore.Upsert. Nil pointer
// fields are left untouched on update.
type UpsertFields struct {
	Value     configvalue.Value
	UpdatedBy string
	// Type is only honoured when the record is created. Empty means infer
	// from Value.
	Type        configvalue.ConfigType
	Label       *string
	Description *string
	IsPublic    *bool
}

// ConfigStore persists config records keyed by (module, key).
type ConfigStore struct {
	db *gorm.DB
}

func NewConfigStore(db *gorm.DB) *ConfigStore {
	return &ConfigStore{db: db}
}

func (s *ConfigStore) byKey(tx *gorm.DB, module, key string) *gorm.DB {
	return tx.Where("module = ? AND config_key = ?", module, key)
}

// Find returns the record or nil when it does not exist.
func (s *ConfigStore) Find(ctx context.Context, module, key string) (*models.ConfigRecord, error) {
	var rec models.ConfigRecord
	err := s.byKey(s.db.WithContext(ctx), module, key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config %s.%s: %w", module, key, err)
	}
	return &rec, nil
}

// FindAllByModule returns the module's records ordered by key.
func (s *ConfigStore) FindAllByModule(ctx context.Context, module string) ([]models.ConfigRecord, error) {
	var recs []models.ConfigRecord
	if err := s.db.WithContext(ctx).
		Where("module = ?", module).
		Order("config_key ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list configs of module %s: %w", module, err)
	}
	return recs, nil
}

// FindAll returns every record ordered by (module, key).
func (s *ConfigStore) FindAll(ctx context.Context) ([]models.ConfigRecord, error) {
	var recs []models.ConfigRecord
	if err := s.db.WithContext(ctx).
		Order("module ASC, config_key ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list configs: %w", err)
	}
	return recs, nil
}

// FindPublic returns the records flagged public, ordered by (module, key).
func (s *ConfigStore) FindPublic(ctx context.Context) ([]models.ConfigRecord, error) {
	var recs []models.ConfigRecord
	if err := s.db.WithContext(ctx).
		Where("is_public = ?", true).
		Order("module ASC, config_key ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list public configs: %w", err)
	}
	return recs, nil
}

// Count returns the number of stored records.
func (s *ConfigStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ConfigRecord{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count configs: %w", err)
	}
	return count, nil
}

// Create inserts rec. It fails with ErrDuplicateKey if (module, key) exists.
func (s *ConfigStore) Create(ctx context.Context, rec *models.ConfigRecord) error {
	existing, err := s.Find(ctx, rec.Module, rec.Key)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("config %s.%s: %w", rec.Module, rec.Key, ErrDuplicateKey)
	}
	if rec.Type == "" {
		rec.Type = configvalue.TypeString
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("config %s.%s: %w", rec.Module, rec.Key, ErrDuplicateKey)
		}
		return fmt.Errorf("failed to create config %s.%s: %w", rec.Module, rec.Key, err)
	}
	return nil
}

// CreateMany bulk inserts recs and returns how many rows were written. With
// skipDuplicates, pairs that already exist (in the table or earlier in recs)
// are skipped instead of failing the call.
func (s *ConfigStore) CreateMany(ctx context.Context, recs []models.ConfigRecord, skipDuplicates bool) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	rows := recs
	if skipDuplicates {
		rows = dedupe(recs)
	}
	for i := range rows {
		if rows[i].Type == "" {
			rows[i].Type = configvalue.TypeString
		}
	}

	tx := s.db.WithContext(ctx)
	if skipDuplicates {
		tx = tx.Clauses(clause.OnConflict{DoNothing: true})
	}
	result := tx.Create(&rows)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return 0, fmt.Errorf("bulk create configs: %w", ErrDuplicateKey)
		}
		return 0, fmt.Errorf("failed to bulk create configs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func dedupe(recs []models.ConfigRecord) []models.ConfigRecord {
	seen := make(map[[2]string]struct{}, len(recs))
	out := make([]models.ConfigRecord, 0, len(recs))
	for _, rec := range recs {
		id := [2]string{rec.Module, rec.Key}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// Upsert creates the record when absent, otherwise rewrites its value using
// the record's existing type.
func (s *ConfigStore) Upsert(ctx context.Context, module, key string, f UpsertFields) (*models.ConfigRecord, error) {
	existing, err := s.Find(ctx, module, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		rec, err := s.createFromFields(ctx, module, key, f)
		if !errors.Is(err, ErrDuplicateKey) {
			return rec, err
		}
		// lost a race with another writer; fall through to update
		if existing, err = s.Find(ctx, module, key); err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("config %s.%s: %w", module, key, ErrNotFound)
		}
	}

	updates := map[string]any{
		"value":      configvalue.Encode(f.Value, existing.Type),
		"updated_by": f.UpdatedBy,
		"updated_at": time.Now(),
	}
	if f.Label != nil {
		updates["label"] = *f.Label
	}
	if f.Description != nil {
		updates["description"] = *f.Description
	}
	if f.IsPublic != nil {
		updates["is_public"] = *f.IsPublic
	}
	return s.applyUpdates(ctx, existing, updates)
}

func (s *ConfigStore) createFromFields(ctx context.Context, module, key string, f UpsertFields) (*models.ConfigRecord, error) {
	typ := f.Type
	if typ == "" {
		typ = configvalue.Infer(f.Value)
	}
	rec := &models.ConfigRecord{
		Module:    module,
		Key:       key,
		Value:     configvalue.Encode(f.Value, typ),
		Type:      typ,
		Label:     key,
		UpdatedBy: f.UpdatedBy,
	}
	if f.Label != nil && *f.Label != "" {
		rec.Label = *f.Label
	}
	if f.Description != nil {
		rec.Description = *f.Description
	}
	if f.IsPublic != nil {
		rec.IsPublic = *f.IsPublic
	}
	if err := s.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update rewrites the value of an existing record. It never creates.
func (s *ConfigStore) Update(ctx context.Context, module, key string, value configvalue.Value, updatedBy string) (*models.ConfigRecord, error) {
	existing, err := s.Find(ctx, module, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("config %s.%s: %w", module, key, ErrNotFound)
	}
	return s.applyUpdates(ctx, existing, map[string]any{
		"value":      configvalue.Encode(value, existing.Type),
		"updated_by": updatedBy,
		"updated_at": time.Now(),
	})
}

func (s *ConfigStore) applyUpdates(ctx context.Context, rec *models.ConfigRecord, updates map[string]any) (*models.ConfigRecord, error) {
	if err := s.db.WithContext(ctx).Model(rec).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update config %s.%s: %w", rec.Module, rec.Key, err)
	}
	var fresh models.ConfigRecord
	if err := s.db.WithContext(ctx).First(&fresh, rec.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload config %s.%s: %w", rec.Module, rec.Key, err)
	}
	return &fresh, nil
}

// Delete removes the record, failing with ErrNotFound when absent.
func (s *ConfigStore) Delete(ctx context.Context, module, key string) error {
	result := s.byKey(s.db.WithContext(ctx), module, key).Delete(&models.ConfigRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete config %s.%s: %w", module, key, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("config %s.%s: %w", module, key, ErrNotFound)
	}
	return nil
}
