package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/constructa/erp/backend/internal/cache"
	"github.com/constructa/erp/backend/internal/models"
	"github.com/constructa/erp/backend/internal/repository"
	"github.com/constructa/erp/backend/pkg/configvalue"
	"github.com/constructa/erp/backend/pkg/logger"
	"golang.org/x/sync/singleflight"
)

// ErrValidation marks a request the service refuses before touching the store.
var ErrValidation = errors.New("validation failed")

const (
	uiModule          = "ui"
	enabledModulesKey = "enabled_modules"
	permissionsModule = "permissions"
)

// ConfigStore is the persistence the service needs. *repository.ConfigStore
// implements it.
type ConfigStore interface {
	Find(ctx context.Context, module, key string) (*models.ConfigRecord, error)
	FindAllByModule(ctx context.Context, module string) ([]models.ConfigRecord, error)
	FindAll(ctx context.Context) ([]models.ConfigRecord, error)
	FindPublic(ctx context.Context) ([]models.ConfigRecord, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, rec *models.ConfigRecord) error
	CreateMany(ctx context.Context, recs []models.ConfigRecord, skipDuplicates bool) (int64, error)
	Upsert(ctx context.Context, module, key string, f repository.UpsertFields) (*models.ConfigRecord, error)
	Update(ctx context.Context, module, key string, value configvalue.Value, updatedBy string) (*models.ConfigRecord, error)
	Delete(ctx context.Context, module, key string) error
}

// ConfigEntry is one decoded setting in a grouped snapshot.
type ConfigEntry struct {
	Value       configvalue.Value      `json:"value"`
	Type        configvalue.ConfigType `json:"type"`
	Label       string                 `json:"label"`
	Description string                 `json:"description,omitempty"`
}

// ConfigDefinition creates a setting with an explicit type.
type ConfigDefinition struct {
	Module      string
	Key         string
	Value       configvalue.Value
	Type        configvalue.ConfigType
	Label       string
	Description string
	IsPublic    bool
	UpdatedBy   string
}

// SettingUpdate is one entry of a batch update.
type SettingUpdate struct {
	Module string
	Key    string
	Value  configvalue.Value
}

// SeedResult reports what SeedDefaults did.
type SeedResult struct {
	Seeded   bool   `json:"seeded"`
	Created  int64  `json:"created"`
	Existing int64  `json:"existing"`
	Version  string `json:"version"`
}

// SystemConfigService is the only way business code reads or writes dynamic
// settings. Reads go through the cache; every write invalidates the global,
// module and key tags before returning.
type SystemConfigService struct {
	store ConfigStore
	cache cache.Cache
	group singleflight.Group

	// fillMu pairs "check gen, then Set" with "bump gen, then Invalidate", so
	// a load that overlaps a write never stores its result.
	fillMu sync.Mutex
	gen    uint64
}

func NewSystemConfigService(store ConfigStore, c cache.Cache) *SystemConfigService {
	return &SystemConfigService{store: store, cache: c}
}

func validateKey(module, key string) error {
	if strings.TrimSpace(module) == "" {
		return fmt.Errorf("%w: module is required", ErrValidation)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: key is required", ErrValidation)
	}
	return nil
}

// cached returns the entry under key, loading and storing it on a miss.
// Concurrent misses for the same key share one load. The load runs detached
// from any single caller's cancellation; each caller still stops waiting
// when its own ctx is done.
func (s *SystemConfigService) cached(ctx context.Context, key string, load func(context.Context) (any, error), tags ...string) (any, error) {
	if v, ok := s.cache.Get(key); ok {
		return v, nil
	}

	s.fillMu.Lock()
	gen := s.gen
	s.fillMu.Unlock()

	loadCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		if v, ok := s.cache.Get(key); ok {
			return v, nil
		}
		v, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		s.fillMu.Lock()
		if s.gen == gen {
			s.cache.Set(key, v, tags...)
		}
		s.fillMu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (s *SystemConfigService) invalidate(module, key string) {
	s.invalidateTags(cache.TagAll, cache.ModuleTag(module), cache.KeyTag(module, key))
}

func (s *SystemConfigService) invalidateTags(tags ...string) {
	s.fillMu.Lock()
	defer s.fillMu.Unlock()
	s.gen++
	s.cache.Invalidate(tags...)
}

// cloneValue copies the slice behind a ListValue so callers cannot edit
// cached data.
func cloneValue(v configvalue.Value) configvalue.Value {
	if list, ok := v.(configvalue.ListValue); ok {
		return slices.Clone(list)
	}
	return v
}

// GetConfig returns the decoded value, or nil when the setting does not exist.
func (s *SystemConfigService) GetConfig(ctx context.Context, module, key string) (configvalue.Value, error) {
	if err := validateKey(module, key); err != nil {
		return nil, err
	}
	v, err := s.cached(ctx, cache.GetKey(module, key), func(ctx context.Context) (any, error) {
		rec, err := s.store.Find(ctx, module, key)
		if err != nil || rec == nil {
			return nil, err
		}
		return rec.Decoded(), nil
	}, cache.TagAll, cache.ModuleTag(module), cache.KeyTag(module, key))
	if err != nil || v == nil {
		return nil, err
	}
	return cloneValue(v.(configvalue.Value)), nil
}

// SetConfig writes value, creating the setting when it does not exist yet.
// Existing settings keep their declared type; new ones get an inferred type.
func (s *SystemConfigService) SetConfig(ctx context.Context, module, key string, value configvalue.Value, updatedBy string) (*models.ConfigRecord, error) {
	if err := validateKey(module, key); err != nil {
		return nil, err
	}
	rec, err := s.store.Upsert(ctx, module, key, repository.UpsertFields{
		Value:     value,
		UpdatedBy: updatedBy,
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(module, key)
	logger.Debug().Str("module", module).Str("key", key).Str("by", updatedBy).Msg("[SystemConfig] Setting saved")
	return rec, nil
}

// DefineConfig creates a setting with an explicit type. It fails with
// repository.ErrDuplicateKey when the setting already exists.
func (s *SystemConfigService) DefineConfig(ctx context.Context, def ConfigDefinition) (*models.ConfigRecord, error) {
	if err := validateKey(def.Module, def.Key); err != nil {
		return nil, err
	}
	typ := def.Type
	if typ == "" {
		typ = configvalue.Infer(def.Value)
	}
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrValidation, def.Type)
	}
	label := def.Label
	if label == "" {
		label = def.Key
	}
	updatedBy := def.UpdatedBy
	if updatedBy == "" {
		updatedBy = "system"
	}

	rec := &models.ConfigRecord{
		Module:      def.Module,
		Key:         def.Key,
		Value:       configvalue.Encode(def.Value, typ),
		Type:        typ,
		Label:       label,
		Description: def.Description,
		IsPublic:    def.IsPublic,
		UpdatedBy:   updatedBy,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.invalidate(def.Module, def.Key)
	logger.Info().Str("module", def.Module).Str("key", def.Key).Str("type", typ.String()).Msg("[SystemConfig] Setting defined")
	return rec, nil
}

// UpdateConfig rewrites an existing setting. It never creates one and fails
// with repository.ErrNotFound instead.
func (s *SystemConfigService) UpdateConfig(ctx context.Context, module, key string, value configvalue.Value, updatedBy string) (*models.ConfigRecord, error) {
	if err := validateKey(module, key); err != nil {
		return nil, err
	}
	rec, err := s.store.Update(ctx, module, key, value, updatedBy)
	if err != nil {
		return nil, err
	}
	s.invalidate(module, key)
	return rec, nil
}

// BatchUpdate applies each update independently and returns how many were
// written. Entries naming a missing or malformed setting are skipped. The
// batch is not atomic: on a store failure the earlier entries stay written.
func (s *SystemConfigService) BatchUpdate(ctx context.Context, updates []SettingUpdate, updatedBy string) (int, error) {
	updated := 0
	for _, u := range updates {
		if err := validateKey(u.Module, u.Key); err != nil {
			logger.Warn().Str("module", u.Module).Str("key", u.Key).Msg("[SystemConfig] Batch entry skipped: invalid key")
			continue
		}
		_, err := s.store.Update(ctx, u.Module, u.Key, u.Value, updatedBy)
		if errors.Is(err, repository.ErrNotFound) {
			logger.Debug().Str("module", u.Module).Str("key", u.Key).Msg("[SystemConfig] Batch entry skipped: not found")
			continue
		}
		if err != nil {
			return updated, err
		}
		s.invalidate(u.Module, u.Key)
		updated++
	}
	return updated, nil
}

// DeleteConfig removes a setting, failing with repository.ErrNotFound when
// it does not exist.
func (s *SystemConfigService) DeleteConfig(ctx context.Context, module, key string) error {
	if err := validateKey(module, key); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, module, key); err != nil {
		return err
	}
	s.invalidate(module, key)
	logger.Info().Str("module", module).Str("key", key).Msg("[SystemConfig] Setting deleted")
	return nil
}

// GetModuleConfig returns every decoded value of module keyed by setting key.
// The map is empty for an unknown module.
func (s *SystemConfigService) GetModuleConfig(ctx context.Context, module string) (map[string]configvalue.Value, error) {
	if strings.TrimSpace(module) == "" {
		return nil, fmt.Errorf("%w: module is required", ErrValidation)
	}
	v, err := s.cached(ctx, cache.ModuleKey(module), func(ctx context.Context) (any, error) {
		recs, err := s.store.FindAllByModule(ctx, module)
		if err != nil {
			return nil, err
		}
		values := make(map[string]configvalue.Value, len(recs))
		for i := range recs {
			values[recs[i].Key] = recs[i].Decoded()
		}
		return values, nil
	}, cache.TagAll, cache.ModuleTag(module))
	if err != nil {
		return nil, err
	}
	src := v.(map[string]configvalue.Value)
	out := make(map[string]configvalue.Value, len(src))
	for k, val := range src {
		out[k] = cloneValue(val)
	}
	return out, nil
}

// IsModuleEnabled reports whether name is listed in ui.enabled_modules. A
// missing or non-list setting enables every module.
func (s *SystemConfigService) IsModuleEnabled(ctx context.Context, name string) (bool, error) {
	return s.listAllows(ctx, uiModule, enabledModulesKey, name)
}

// HasPermission reports whether role is listed in permissions.<permissionKey>.
// A missing or non-list setting allows every role.
func (s *SystemConfigService) HasPermission(ctx context.Context, permissionKey, role string) (bool, error) {
	return s.listAllows(ctx, permissionsModule, permissionKey, role)
}

func (s *SystemConfigService) listAllows(ctx context.Context, module, key, item string) (bool, error) {
	v, err := s.GetConfig(ctx, module, key)
	if err != nil {
		return false, err
	}
	list, ok := configvalue.AsList(v)
	if v == nil || !ok {
		return true, nil
	}
	for _, allowed := range list {
		if allowed == item {
			return true, nil
		}
	}
	return false, nil
}

// GetAllConfigs returns every setting grouped by module.
func (s *SystemConfigService) GetAllConfigs(ctx context.Context) (map[string]map[string]ConfigEntry, error) {
	return s.grouped(ctx, cache.KeyAll, s.store.FindAll)
}

// GetPublicConfigs returns the settings flagged public, grouped by module.
func (s *SystemConfigService) GetPublicConfigs(ctx context.Context) (map[string]map[string]ConfigEntry, error) {
	return s.grouped(ctx, cache.KeyPublic, s.store.FindPublic)
}

func (s *SystemConfigService) grouped(ctx context.Context, cacheKey string, find func(context.Context) ([]models.ConfigRecord, error)) (map[string]map[string]ConfigEntry, error) {
	v, err := s.cached(ctx, cacheKey, func(ctx context.Context) (any, error) {
		recs, err := find(ctx)
		if err != nil {
			return nil, err
		}
		return groupRecords(recs), nil
	}, cache.TagAll)
	if err != nil {
		return nil, err
	}

	src := v.(map[string]map[string]ConfigEntry)
	out := make(map[string]map[string]ConfigEntry, len(src))
	for module, entries := range src {
		inner := make(map[string]ConfigEntry, len(entries))
		for k, e := range entries {
			e.Value = cloneValue(e.Value)
			inner[k] = e
		}
		out[module] = inner
	}
	return out, nil
}

func groupRecords(recs []models.ConfigRecord) map[string]map[string]ConfigEntry {
	out := make(map[string]map[string]ConfigEntry)
	for i := range recs {
		rec := &recs[i]
		entries, ok := out[rec.Module]
		if !ok {
			entries = make(map[string]ConfigEntry)
			out[rec.Module] = entries
		}
		entries[rec.Key] = ConfigEntry{
			Value:       rec.Decoded(),
			Type:        rec.Type,
			Label:       rec.Label,
			Description: rec.Description,
		}
	}
	return out
}

// ListRecords returns raw records, all of them when module is empty.
func (s *SystemConfigService) ListRecords(ctx context.Context, module string) ([]models.ConfigRecord, error) {
	if module == "" {
		return s.store.FindAll(ctx)
	}
	return s.store.FindAllByModule(ctx, module)
}

// SeedDefaults inserts the default settings into an empty store. When any
// setting exists it does nothing and reports the existing count.
func (s *SystemConfigService) SeedDefaults(ctx context.Context) (SeedResult, error) {
	result := SeedResult{Version: models.DefaultsVersion}

	count, err := s.store.Count(ctx)
	if err != nil {
		return result, err
	}
	if count > 0 {
		result.Existing = count
		return result, nil
	}

	created, err := s.store.CreateMany(ctx, models.DefaultConfigs(), true)
	if err != nil {
		return result, err
	}
	s.invalidateTags(cache.TagAll)

	result.Seeded = true
	result.Created = created
	logger.Info().Int64("created", created).Str("version", models.DefaultsVersion).Msg("[SystemConfig] Default settings seeded")
	return result, nil
}

// GetString returns the setting as a string, or def when it is missing.
func (s *SystemConfigService) GetString(ctx context.Context, module, key, def string) string {
	v, err := s.GetConfig(ctx, module, key)
	if err != nil || v == nil {
		return def
	}
	switch x := v.(type) {
	case configvalue.StringValue:
		return string(x)
	default:
		return configvalue.Encode(v, configvalue.TypeString)
	}
}

// GetNumber returns the setting as a number, or def when it is missing or
// not numeric.
func (s *SystemConfigService) GetNumber(ctx context.Context, module, key string, def float64) float64 {
	v, err := s.GetConfig(ctx, module, key)
	if err != nil {
		return def
	}
	if n, ok := v.(configvalue.NumberValue); ok {
		return float64(n)
	}
	return def
}

// GetBool returns the setting as a boolean, or def when it is missing or not
// a boolean.
func (s *SystemConfigService) GetBool(ctx context.Context, module, key string, def bool) bool {
	v, err := s.GetConfig(ctx, module, key)
	if err != nil {
		return def
	}
	if b, ok := v.(configvalue.BooleanValue); ok {
		return bool(b)
	}
	return def
}

// GetList returns the setting as a string list, or def when it is missing or
// not a list.
func (s *SystemConfigService) GetList(ctx context.Context, module, key string, def []string) []string {
	v, err := s.GetConfig(ctx, module, key)
	if err != nil {
		return def
	}
	if list, ok := configvalue.AsList(v); ok {
		return list
	}
	return def
}
