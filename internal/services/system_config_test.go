package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/constructa/erp/backend/internal/cache"
	"github.com/constructa/erp/backend/internal/models"
	"github.com/constructa/erp/backend/internal/repository"
	"github.com/constructa/erp/backend/internal/testutil"
	"github.com/constructa/erp/backend/pkg/configvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore counts reads that reach the database.
type countingStore struct {
	*repository.ConfigStore
	finds       atomic.Int32
	moduleReads atomic.Int32
	allReads    atomic.Int32
}

func (s *countingStore) Find(ctx context.Context, module, key string) (*models.ConfigRecord, error) {
	s.finds.Add(1)
	return s.ConfigStore.Find(ctx, module, key)
}

func (s *countingStore) FindAllByModule(ctx context.Context, module string) ([]models.ConfigRecord, error) {
	s.moduleReads.Add(1)
	return s.ConfigStore.FindAllByModule(ctx, module)
}

func (s *countingStore) FindAll(ctx context.Context) ([]models.ConfigRecord, error) {
	s.allReads.Add(1)
	return s.ConfigStore.FindAll(ctx)
}

func newService(t *testing.T) (*SystemConfigService, *countingStore) {
	t.Helper()
	store := &countingStore{ConfigStore: repository.NewConfigStore(testutil.NewDB(t))}
	return NewSystemConfigService(store, cache.NewMemory()), store
}

func seeded(t *testing.T) (*SystemConfigService, *countingStore) {
	t.Helper()
	svc, store := newService(t)
	_, err := svc.SeedDefaults(context.Background())
	require.NoError(t, err)
	return svc, store
}

func TestGetConfig_CachesReads(t *testing.T) {
	ctx := context.Background()
	svc, store := seeded(t)

	for i := 0; i < 3; i++ {
		v, err := svc.GetConfig(ctx, "branding", "primary_color")
		require.NoError(t, err)
		assert.Equal(t, configvalue.StringValue("#3b82f6"), v)
	}
	assert.EqualValues(t, 1, store.finds.Load())

	// absence is cached too
	for i := 0; i < 2; i++ {
		v, err := svc.GetConfig(ctx, "branding", "missing")
		require.NoError(t, err)
		assert.Nil(t, v)
	}
	assert.EqualValues(t, 2, store.finds.Load())
}

func TestGetConfig_ConcurrentMissesShareOneRead(t *testing.T) {
	ctx := context.Background()
	svc, store := seeded(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := svc.GetConfig(ctx, "workers", "daily_working_hours")
			assert.NoError(t, err)
			assert.Equal(t, configvalue.NumberValue(8), v)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, store.finds.Load(), int32(20))
	assert.GreaterOrEqual(t, store.finds.Load(), int32(1))
}

func TestGetConfig_Validation(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.GetConfig(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.GetConfig(context.Background(), "general", " ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetConfig_InvalidatesKeyAndModule(t *testing.T) {
	ctx := context.Background()
	svc, _ := seeded(t)

	v, err := svc.GetConfig(ctx, "projects", "auto_progress")
	require.NoError(t, err)
	assert.Equal(t, configvalue.BooleanValue(true), v)
	mod, err := svc.GetModuleConfig(ctx, "projects")
	require.NoError(t, err)
	assert.Equal(t, configvalue.BooleanValue(true), mod["auto_progress"])
	all, err := svc.GetAllConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, configvalue.BooleanValue(true), all["projects"]["auto_progress"].Value)

	_, err = svc.SetConfig(ctx, "projects", "auto_progress", configvalue.BooleanValue(false), "1")
	require.NoError(t, err)

	v, err = svc.GetConfig(ctx, "projects", "auto_progress")
	require.NoError(t, err)
	assert.Equal(t, configvalue.BooleanValue(false), v)

	mod, err = svc.GetModuleConfig(ctx, "projects")
	require.NoError(t, err)
	assert.Equal(t, configvalue.BooleanValue(false), mod["auto_progress"])

	all, err = svc.GetAllConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, configvalue.BooleanValue(false), all["projects"]["auto_progress"].Value)
}

func TestSetConfig_CreatesWithInferredType(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	// prime the cache with the absence
	v, err := svc.GetConfig(ctx, "custom", "new_key")
	require.NoError(t, err)
	assert.Nil(t, v)

	rec, err := svc.SetConfig(ctx, "custom", "new_key", configvalue.NumberValue(42), "7")
	require.NoError(t, err)
	assert.Equal(t, configvalue.TypeNumber, rec.Type)

	v, err = svc.GetConfig(ctx, "custom", "new_key")
	require.NoError(t, err)
	assert.Equal(t, configvalue.NumberValue(42), v)
}

func TestSetConfig_KeepsDeclaredType(t *testing.T) {
	ctx := context.Background()
	svc, _ := seeded(t)

	rec, err := svc.SetConfig(ctx, "workers", "daily_working_hours", configvalue.StringValue("7.5"), "1")
	require.NoError(t, err)
	assert.Equal(t, configvalue.TypeNumber, rec.Type)
	assert.Equal(t, "7.5", rec.Value)

	assert.Equal(t, 7.5, svc.GetNumber(ctx, "workers", "daily_working_hours", 0))
}

func TestDefineConfig(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	rec, err := svc.DefineConfig(ctx, ConfigDefinition{
		Module:   "branding",
		Key:      "accent_color",
		Value:    configvalue.StringValue("#ff8800"),
		Type:     configvalue.TypeColor,
		Label:    "Accent Color",
		IsPublic: true,
	})
	require.NoError(t, err)
	assert.Equal(t, configvalue.TypeColor, rec.Type)
	assert.Equal(t, "system", rec.UpdatedBy)

	_, err = svc.DefineConfig(ctx, ConfigDefinition{Module: "branding", Key: "accent_color", Type: configvalue.TypeColor})
	assert.ErrorIs(t, err, repository.ErrDuplicateKey)

	_, err = svc.DefineConfig(ctx, ConfigDefinition{Module: "branding", Key: "x", Type: "DATE"})
	assert.ErrorIs(t, err, ErrValidation)

	public, err := svc.GetPublicConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, configvalue.StringValue("#ff8800"), public["branding"]["accent_color"].Value)
}

func TestUpdateConfig_NeverCreates(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	_, err := svc.UpdateConfig(ctx, "branding", "primary_color", configvalue.StringValue("#000"), "1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	v, err := svc.GetConfig(ctx, "branding", "primary_color")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestBatchUpdate_BestEffort(t *testing.T) {
	ctx := context.Background()
	svc, _ := seeded(t)

	// warm caches for both touched modules
	_, err := svc.GetModuleConfig(ctx, "general")
	require.NoError(t, err)
	_, err = svc.GetConfig(ctx, "ui", "items_per_page")
	require.NoError(t, err)

	updated, err := svc.BatchUpdate(ctx, []SettingUpdate{
		{Module: "general", Key: "currency", Value: configvalue.StringValue("EUR")},
		{Module: "general", Key: "does_not_exist", Value: configvalue.StringValue("x")},
		{Module: "", Key: "bad", Value: configvalue.StringValue("x")},
		{Module: "ui", Key: "items_per_page", Value: configvalue.NumberValue(50)},
	}, "3")
	require.NoError(t, err)
	assert.Equal(t, 2, updated)

	mod, err := svc.GetModuleConfig(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, configvalue.StringValue("EUR"), mod["currency"])
	_, exists := mod["does_not_exist"]
	assert.False(t, exists)

	v, err := svc.GetConfig(ctx, "ui", "items_per_page")
	require.NoError(t, err)
	assert.Equal(t, configvalue.NumberValue(50), v)
}

func TestDeleteConfig(t *testing.T) {
	ctx := context.Background()
	svc, _ := seeded(t)

	v, err := svc.GetConfig(ctx, "finance", "vat_rate")
	require.NoError(t, err)
	require.NotNil(t, v)

	require.NoError(t, svc.DeleteConfig(ctx, "finance", "vat_rate"))

	v, err = svc.GetConfig(ctx, "finance", "vat_rate")
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.ErrorIs(t, svc.DeleteConfig(ctx, "finance", "vat_rate"), repository.ErrNotFound)
}

func TestIsModuleEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("absent setting enables everything", func(t *testing.T) {
		svc, _ := newService(t)
		ok, err := svc.IsModuleEnabled(ctx, "nonexistent_module_with_no_row")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("listed and unlisted", func(t *testing.T) {
		svc, _ := seeded(t)
		ok, err := svc.IsModuleEnabled(ctx, "equipment")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = svc.IsModuleEnabled(ctx, "payroll")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("reflects writes", func(t *testing.T) {
		svc, _ := seeded(t)
		_, err := svc.SetConfig(ctx, "ui", "enabled_modules", configvalue.ListValue{"projects"}, "1")
		require.NoError(t, err)

		ok, err := svc.IsModuleEnabled(ctx, "equipment")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("non-list value enables everything", func(t *testing.T) {
		svc, _ := newService(t)
		_, err := svc.SetConfig(ctx, "ui", "enabled_modules", configvalue.StringValue("projects"), "1")
		require.NoError(t, err)

		ok, err := svc.IsModuleEnabled(ctx, "equipment")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestHasPermission(t *testing.T) {
	ctx := context.Background()

	svc, _ := newService(t)
	ok, err := svc.HasPermission(ctx, "can_delete_projects", "ANY_ROLE")
	require.NoError(t, err)
	assert.True(t, ok)

	svc, _ = seeded(t)
	ok, err = svc.HasPermission(ctx, "can_manage_salaries", "ACCOUNTANT")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = svc.HasPermission(ctx, "can_delete_projects", "WORKER")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedDefaults_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	first, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.True(t, first.Seeded)
	assert.EqualValues(t, len(models.DefaultConfigs()), first.Created)
	assert.Equal(t, models.DefaultsVersion, first.Version)

	second, err := svc.SeedDefaults(ctx)
	require.NoError(t, err)
	assert.False(t, second.Seeded)
	assert.Zero(t, second.Created)
	assert.Equal(t, first.Created, second.Existing)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Created, count)
}

func TestSeedDefaults_FlushesCachedAbsence(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)

	v, err := svc.GetConfig(ctx, "general", "currency")
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = svc.SeedDefaults(ctx)
	require.NoError(t, err)

	v, err = svc.GetConfig(ctx, "general", "currency")
	require.NoError(t, err)
	assert.Equal(t, configvalue.StringValue("USD"), v)
}

func TestSnapshotsAreCopies(t *testing.T) {
	ctx := context.Background()
	svc, store := seeded(t)

	all, err := svc.GetAllConfigs(ctx)
	require.NoError(t, err)
	delete(all["general"], "currency")
	delete(all, "branding")

	again, err := svc.GetAllConfigs(ctx)
	require.NoError(t, err)
	assert.Contains(t, again, "branding")
	assert.Contains(t, again["general"], "currency")
	assert.EqualValues(t, 1, store.allReads.Load())

	mod, err := svc.GetModuleConfig(ctx, "general")
	require.NoError(t, err)
	mod["currency"] = configvalue.StringValue("XXX")
	mod, err = svc.GetModuleConfig(ctx, "general")
	require.NoError(t, err)
	assert.Equal(t, configvalue.StringValue("USD"), mod["currency"])
	assert.EqualValues(t, 1, store.moduleReads.Load())

	// list elements are copied as well
	ui, err := svc.GetModuleConfig(ctx, "ui")
	require.NoError(t, err)
	ui["enabled_modules"].(configvalue.ListValue)[0] = "payroll"
	ui, err = svc.GetModuleConfig(ctx, "ui")
	require.NoError(t, err)
	assert.Equal(t, "projects", ui["enabled_modules"].(configvalue.ListValue)[0])

	all, err = svc.GetAllConfigs(ctx)
	require.NoError(t, err)
	all["projects"]["task_statuses"].Value.(configvalue.ListValue)[0] = "BLOCKED"
	all, err = svc.GetAllConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, "TODO", all["projects"]["task_statuses"].Value.(configvalue.ListValue)[0])

	list, err := svc.GetConfig(ctx, "equipment", "categories")
	require.NoError(t, err)
	list.(configvalue.ListValue)[0] = "BULLDOZER"
	list, err = svc.GetConfig(ctx, "equipment", "categories")
	require.NoError(t, err)
	assert.Equal(t, "EXCAVATOR", list.(configvalue.ListValue)[0])
}

func TestPublicConfigs_OnlyPublicRows(t *testing.T) {
	ctx := context.Background()
	svc, _ := seeded(t)

	public, err := svc.GetPublicConfigs(ctx)
	require.NoError(t, err)
	assert.Contains(t, public["branding"], "primary_color")
	assert.NotContains(t, public, "permissions")
	assert.NotContains(t, public["general"], "timezone")
}

func TestTypedHelpers(t *testing.T) {
	ctx := context.Background()
	svc, _ := seeded(t)

	assert.Equal(t, "INV-", svc.GetString(ctx, "finance", "invoice_prefix", ""))
	assert.Equal(t, "fallback", svc.GetString(ctx, "finance", "missing", "fallback"))
	assert.Equal(t, "20", svc.GetString(ctx, "finance", "vat_rate", ""))
	assert.Equal(t, 90.0, svc.GetNumber(ctx, "equipment", "maintenance_interval_days", 0))
	assert.Equal(t, 5.0, svc.GetNumber(ctx, "finance", "invoice_prefix", 5))
	assert.True(t, svc.GetBool(ctx, "projects", "auto_progress", false))
	assert.True(t, svc.GetBool(ctx, "projects", "missing", true))
	assert.Equal(t, []string{"TODO", "IN_PROGRESS", "REVIEW", "DONE"}, svc.GetList(ctx, "projects", "task_statuses", nil))
	assert.Equal(t, []string{"x"}, svc.GetList(ctx, "projects", "missing", []string{"x"}))
}

func TestListRecords(t *testing.T) {
	ctx := context.Background()
	svc, _ := seeded(t)

	all, err := svc.ListRecords(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, len(models.DefaultConfigs()))

	branding, err := svc.ListRecords(ctx, "branding")
	require.NoError(t, err)
	assert.Len(t, branding, 3)
	for _, r := range branding {
		assert.Equal(t, "branding", r.Module)
	}
}

// pausingStore reads from the database, then waits for release before
// returning, so a write can land between the read and the cache fill.
type pausingStore struct {
	*repository.ConfigStore
	readOnce sync.Once
	read     chan struct{}
	release  chan struct{}
}

func (s *pausingStore) Find(ctx context.Context, module, key string) (*models.ConfigRecord, error) {
	rec, err := s.ConfigStore.Find(ctx, module, key)
	s.readOnce.Do(func() { close(s.read) })
	<-s.release
	return rec, err
}

func TestGetConfig_LoadOverlappingWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	store := &pausingStore{
		ConfigStore: repository.NewConfigStore(testutil.NewDB(t)),
		read:        make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc := NewSystemConfigService(store, cache.NewMemory())
	_, err := svc.SetConfig(ctx, "general", "currency", configvalue.StringValue("USD"), "system")
	require.NoError(t, err)

	done := make(chan configvalue.Value)
	go func() {
		v, _ := svc.GetConfig(ctx, "general", "currency")
		done <- v
	}()

	<-store.read
	_, err = svc.SetConfig(ctx, "general", "currency", configvalue.StringValue("EUR"), "1")
	require.NoError(t, err)
	close(store.release)

	assert.Equal(t, configvalue.StringValue("USD"), <-done)

	v, err := svc.GetConfig(ctx, "general", "currency")
	require.NoError(t, err)
	assert.Equal(t, configvalue.StringValue("EUR"), v)
}

// holdingCache pauses the first Set until release is closed.
type holdingCache struct {
	cache.Cache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (c *holdingCache) Set(key string, value any, tags ...string) {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})
	c.Cache.Set(key, value, tags...)
}

func TestGetConfig_FillRacingWriteDoesNotWin(t *testing.T) {
	ctx := context.Background()
	store := repository.NewConfigStore(testutil.NewDB(t))
	_, err := store.Upsert(ctx, "general", "currency", repository.UpsertFields{Value: configvalue.StringValue("USD"), UpdatedBy: "system"})
	require.NoError(t, err)

	held := &holdingCache{Cache: cache.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewSystemConfigService(store, held)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		_, _ = svc.GetConfig(ctx, "general", "currency")
	}()
	<-held.entered

	writeDone := make(chan error)
	go func() {
		_, err := svc.SetConfig(ctx, "general", "currency", configvalue.StringValue("EUR"), "1")
		writeDone <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(held.release)
	require.NoError(t, <-writeDone)
	<-readDone

	v, err := svc.GetConfig(ctx, "general", "currency")
	require.NoError(t, err)
	assert.Equal(t, configvalue.StringValue("EUR"), v)
}

// gatedStore blocks Find until gate is closed and reports when a Find starts.
type gatedStore struct {
	*repository.ConfigStore
	started chan struct{}
	once    sync.Once
	gate    chan struct{}
}

func (s *gatedStore) Find(ctx context.Context, module, key string) (*models.ConfigRecord, error) {
	s.once.Do(func() { close(s.started) })
	<-s.gate
	return s.ConfigStore.Find(ctx, module, key)
}

func TestGetConfig_CancelledCallerDoesNotFailOthers(t *testing.T) {
	store := &gatedStore{
		ConfigStore: repository.NewConfigStore(testutil.NewDB(t)),
		started:     make(chan struct{}),
		gate:        make(chan struct{}),
	}
	svc := NewSystemConfigService(store, cache.NewMemory())
	_, err := svc.SetConfig(context.Background(), "general", "currency", configvalue.StringValue("USD"), "system")
	require.NoError(t, err)

	cancelCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error)
	go func() {
		_, err := svc.GetConfig(cancelCtx, "general", "currency")
		firstErr <- err
	}()
	<-store.started

	second := make(chan configvalue.Value)
	secondErr := make(chan error)
	go func() {
		v, err := svc.GetConfig(context.Background(), "general", "currency")
		secondErr <- err
		second <- v
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(store.gate)
	require.NoError(t, <-secondErr)
	assert.Equal(t, configvalue.StringValue("USD"), <-second)
}
