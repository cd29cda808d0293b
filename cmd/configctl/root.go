package main

import (
	"context"
	"fmt"
	"os"

	"github.com/constructa/erp/backend/internal/cache"
	"github.com/constructa/erp/backend/internal/config"
	"github.com/constructa/erp/backend/internal/models"
	"github.com/constructa/erp/backend/internal/repository"
	"github.com/constructa/erp/backend/internal/services"
	"github.com/constructa/erp/backend/internal/utils"
	"github.com/constructa/erp/backend/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	jsonOutput bool
	actor      string

	db      *gorm.DB
	cache   cache.Cache
	redis   *redis.Client
	configs *services.SystemConfigService
}

func newRootCmd() *cobra.Command {
	app := &cli{}

	root := &cobra.Command{
		Use:           "configctl <command>",
		Short:         "Manage ERP settings in the database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.open()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
		},
	}

	root.PersistentFlags().StringVar(&app.configPath, "config", defaultConfigPath(), "path to config.yaml")
	root.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "output as JSON")
	root.PersistentFlags().StringVar(&app.actor, "actor", "system", "value stored in updated_by")

	root.AddCommand(
		app.seedCmd(),
		app.listCmd(),
		app.getCmd(),
		app.setCmd(),
		app.defineCmd(),
		app.deleteCmd(),
		app.tokenCmd(),
	)
	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

// open connects to the database named by the config file. With
// cache.broadcast on, writes also publish their invalidations so running
// servers drop stale entries; otherwise servers see them once their cache
// entries expire.
func (a *cli) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: os.Stderr})
	utils.SetJWTSecret(cfg.JWT.Secret)

	db, err := models.Open(&cfg.Database)
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	a.db = db

	c, rdb, err := cache.Connect(context.Background(), cfg, cache.NewMemory())
	if err != nil {
		a.close()
		return err
	}
	a.cache, a.redis = c, rdb
	a.configs = services.NewSystemConfigService(repository.NewConfigStore(db), a.cache)
	return nil
}

func (a *cli) close() {
	if a.cache != nil {
		_ = a.cache.Close()
		a.cache = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.db == nil {
		return
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.db = nil
}
