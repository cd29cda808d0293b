package main

import (
	"context"
	"fmt"

	"github.com/constructa/erp/backend/internal/cache"
	"github.com/constructa/erp/backend/internal/config"
	"github.com/constructa/erp/backend/internal/handlers"
	"github.com/constructa/erp/backend/internal/middleware"
	"github.com/constructa/erp/backend/internal/models"
	"github.com/constructa/erp/backend/internal/repository"
	"github.com/constructa/erp/backend/internal/services"
	"github.com/constructa/erp/backend/internal/utils"
	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// appServices holds everything the server wires together and later stops.
type appServices struct {
	db        *gorm.DB
	cache     cache.Cache
	cacheMode string
	redis     *redis.Client

	configs *services.SystemConfigService
	logs    *services.SystemLogService
	limiter *middleware.RateLimiter
	routes  handlers.Routes
}

// bootstrap opens the database, builds the cache and services, seeds the
// default settings and starts the audit cleanup job.
func bootstrap(cfg *config.Config) (*appServices, error) {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		return nil, err
	}
	db := models.GetDB()
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	app := &appServices{db: db}
	if err := app.initCache(cfg); err != nil {
		return nil, err
	}

	app.configs = services.NewSystemConfigService(repository.NewConfigStore(db), app.cache)
	if result, err := app.configs.SeedDefaults(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default settings")
	} else {
		logger.Info().Int64("created", result.Created).Int64("existing", result.Existing).Msg("Default settings checked")
	}

	app.logs = services.NewSystemLogService(db, app.configs)
	if cfg.Audit.Enabled {
		if err := app.logs.StartCleanupScheduler(cfg.Audit.CleanupSchedule); err != nil {
			return nil, err
		}
	}

	app.limiter = middleware.NewRateLimiter(cfg.Server.WriteRPS, cfg.Server.WriteBurst)
	app.routes = handlers.Routes{
		Configs:      handlers.NewSystemConfigHandler(app.configs),
		Logs:         handlers.NewSystemLogHandler(app.logs),
		Health:       handlers.NewHealthHandler(db, app.cacheMode),
		WriteLimiter: app.limiter,
	}
	if cfg.Audit.Enabled {
		app.routes.Audit = app.logs
	}
	return app, nil
}

func (a *appServices) initCache(cfg *config.Config) error {
	c, rdb, err := cache.Connect(context.Background(), cfg, cache.NewTTL(cfg.Cache.TTL))
	if err != nil {
		return err
	}
	a.cache, a.redis = c, rdb
	a.cacheMode = "memory"
	if rdb != nil {
		a.cacheMode = "memory+redis"
	}
	return nil
}

// shutdown stops background work and releases connections.
func (a *appServices) shutdown() error {
	var result *multierror.Error

	if a.logs != nil {
		a.logs.StopScheduler()
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close cache: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close redis: %w", err))
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				result = multierror.Append(result, fmt.Errorf("close database: %w", err))
			}
		}
	}
	logger.Info().Msg("All services stopped")
	return result.ErrorOrNil()
}
