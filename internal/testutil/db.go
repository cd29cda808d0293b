// Package testutil provides throwaway databases for package tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/constructa/erp/backend/internal/config"
	"github.com/constructa/erp/backend/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewDB opens a migrated in-memory sqlite database private to the test.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("migrate test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	// shared-cache memory databases report "table is locked" under concurrent writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
