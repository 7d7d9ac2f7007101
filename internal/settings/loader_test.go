package settings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/router-for-me/EnterpriseAccess/internal/models"
	"gorm.io/gorm"
)

func setupSettingsDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:settings_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Setting{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	t.Cleanup(func() { StoreDBConfig(time.Time{}, nil) })
	return conn
}

func TestPutRefreshesSnapshot(t *testing.T) {
	conn := setupSettingsDB(t)
	ctx := context.Background()

	if err := Put(ctx, conn, PolicyLockTTLSecondsKey, 45); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got := Seconds(PolicyLockTTLSecondsKey, DefaultPolicyLockTTLSeconds); got != 45*time.Second {
		t.Fatalf("expected 45s, got %s", got)
	}

	if err := Put(ctx, conn, PolicyLockTTLSecondsKey, 90); err != nil {
		t.Fatalf("put again: %v", err)
	}
	if got := Seconds(PolicyLockTTLSecondsKey, DefaultPolicyLockTTLSeconds); got != 90*time.Second {
		t.Fatalf("expected upsert to 90s, got %s", got)
	}

	var count int64
	if err := conn.Model(&models.Setting{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected single row, got %d", count)
	}
	if DBConfigUpdatedAt().IsZero() {
		t.Fatalf("expected updated_at to be tracked")
	}
}

func TestRefreshDBConfigSnapshotReadsRows(t *testing.T) {
	conn := setupSettingsDB(t)
	row := models.Setting{Key: AdminContactCacheTTLSecondsKey, Value: []byte(`"30"`), UpdatedAt: time.Now().UTC()}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := RefreshDBConfigSnapshot(context.Background(), conn); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := Seconds(AdminContactCacheTTLSecondsKey, DefaultAdminContactCacheTTLSeconds); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
}

func TestPutRejectsInvalidInput(t *testing.T) {
	if err := Put(context.Background(), nil, "k", 1); err == nil {
		t.Fatalf("expected nil db error")
	}
	conn := setupSettingsDB(t)
	if err := Put(context.Background(), conn, "  ", 1); err == nil {
		t.Fatalf("expected empty key error")
	}
	if NewRefresher(nil) != nil {
		t.Fatalf("expected nil refresher without db")
	}
}
