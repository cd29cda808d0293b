package models

import (
	"fmt"
	"time"

	"github.com/constructa/erp/backend/internal/config"
	"github.com/constructa/erp/backend/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

var DB *gorm.DB

// Open connects to the configured database without touching the global handle.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.New(logger.GormWriter(), gormLogConfig(cfg.Debug)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return db, nil
}

// gormLogConfig keeps lookups of absent settings out of the log.
func gormLogConfig(debug bool) gormlogger.Config {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.Config{
		SlowThreshold:             slowQueryThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	}
}

func InitDB(cfg *config.DatabaseConfig) error {
	db, err := Open(cfg)
	if err != nil {
		return err
	}
	DB = db
	return nil
}

// AutoMigrate creates or updates every table owned by this service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ConfigRecord{},
		&SystemLog{},
		&SchedulerLock{},
	)
}

func GetDB() *gorm.DB {
	return DB
}
