package app

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/router-for-me/EnterpriseAccess/internal/config"
	"github.com/router-for-me/EnterpriseAccess/internal/db"
	"github.com/router-for-me/EnterpriseAccess/internal/lock"
	"gorm.io/gorm"
)

func testConfig() config.Config {
	return config.Config{
		Lock: config.LockConfig{TTL: time.Minute},
		Upstreams: config.UpstreamsConfig{
			Ledger:  config.UpstreamConfig{BaseURL: "http://ledger.invalid"},
			Catalog: config.UpstreamConfig{BaseURL: "http://catalog.invalid"},
			LMS:     config.UpstreamConfig{BaseURL: "http://lms.invalid"},
		},
		JWT: config.JWTConfig{Secret: "secret"},
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:app_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate db: %v", errMigrate)
	}
	return conn
}

func TestBuildServicesRequiresDatabase(t *testing.T) {
	if _, err := BuildServices(nil, testConfig(), nil); err == nil {
		t.Fatalf("expected error without database")
	}
}

func TestBuildServicesRejectsMissingUpstream(t *testing.T) {
	cfg := testConfig()
	cfg.Upstreams.Catalog.BaseURL = ""
	if _, err := BuildServices(openTestDB(t), cfg, lock.NewMemoryStore()); err == nil {
		t.Fatalf("expected error for empty catalog url")
	}
}

func TestRouterServesHealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, err := BuildServices(openTestDB(t), testConfig(), lock.NewMemoryStore())
	if err != nil {
		t.Fatalf("build services: %v", err)
	}
	if svc.Locks.TTL() != time.Minute {
		t.Fatalf("expected configured lock ttl, got %s", svc.Locks.TTL())
	}
	router := NewRouter(svc, "secret")

	health := httptest.NewRecorder()
	router.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if health.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", health.Code)
	}
	if health.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}

	metricsResp := httptest.NewRecorder()
	router.ServeHTTP(metricsResp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if metricsResp.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", metricsResp.Code)
	}
	if !strings.Contains(metricsResp.Body.String(), "go_goroutines") {
		t.Fatalf("expected go collector output")
	}

	missing := httptest.NewRecorder()
	router.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.Code)
	}
}

func TestNewLockStoreFallsBackToMemory(t *testing.T) {
	if _, ok := newLockStore(config.RedisConfig{}).(*lock.MemoryStore); !ok {
		t.Fatalf("expected memory store without redis address")
	}
	if _, ok := newLockStore(config.RedisConfig{Addr: "127.0.0.1:6379"}).(*lock.RedisStore); !ok {
		t.Fatalf("expected redis store with address")
	}
}
