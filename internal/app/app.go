package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/EnterpriseAccess/internal/allocation"
	"github.com/router-for-me/EnterpriseAccess/internal/assignments"
	"github.com/router-for-me/EnterpriseAccess/internal/clients"
	"github.com/router-for-me/EnterpriseAccess/internal/config"
	"github.com/router-for-me/EnterpriseAccess/internal/db"
	"github.com/router-for-me/EnterpriseAccess/internal/http/api/enterprise"
	"github.com/router-for-me/EnterpriseAccess/internal/lock"
	"github.com/router-for-me/EnterpriseAccess/internal/logging"
	"github.com/router-for-me/EnterpriseAccess/internal/metrics"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	"github.com/router-for-me/EnterpriseAccess/internal/redemption"
	"github.com/router-for-me/EnterpriseAccess/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn.WithContext(ctx))
}

// Services bundles the core components built from one configuration.
type Services struct {
	DB         *gorm.DB
	Locks      *lock.Manager
	Evaluator  *policy.Evaluator
	Allocation *allocation.Service
	Pipeline   *redemption.Pipeline
	LMS        *clients.LMSClient
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
}

// BuildServices wires upstream clients, the lock manager and the policy
// engine on top of conn. store overrides the lock store chosen from cfg.
func BuildServices(conn *gorm.DB, cfg config.Config, store lock.Store) (*Services, error) {
	if conn == nil {
		return nil, errors.New("app: nil database")
	}
	ledger, errLedger := clients.NewLedgerClient(upstreamOptions(cfg.Upstreams.Ledger))
	if errLedger != nil {
		return nil, errLedger
	}
	catalog, errCatalog := clients.NewCatalogClient(upstreamOptions(cfg.Upstreams.Catalog))
	if errCatalog != nil {
		return nil, errCatalog
	}
	lms, errLMS := clients.NewLMSClient(upstreamOptions(cfg.Upstreams.LMS))
	if errLMS != nil {
		return nil, errLMS
	}

	if store == nil {
		store = newLockStore(cfg.Redis)
	}
	locks := lock.NewManager(store, cfg.Lock.TTL)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.MustNewMetrics(registry)

	evaluator := policy.NewEvaluator(ledger, catalog, lms, assignments.NewAggregator(conn))
	return &Services{
		DB:         conn,
		Locks:      locks,
		Evaluator:  evaluator,
		Allocation: allocation.NewService(conn, locks, evaluator, lms, m),
		Pipeline:   redemption.NewPipeline(conn, locks, evaluator, ledger, lms, m),
		LMS:        lms,
		Metrics:    m,
		Registry:   registry,
	}, nil
}

// NewRouter builds the gin engine serving the enterprise API.
func NewRouter(svc *Services, jwtSecret string) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.RequestLogger())
	var gatherer prometheus.Gatherer
	if svc.Registry != nil {
		gatherer = svc.Registry
	}
	enterprise.RegisterEnterpriseRoutes(engine, enterprise.Dependencies{
		DB:         svc.DB,
		JWTSecret:  jwtSecret,
		Allocation: svc.Allocation,
		Pipeline:   svc.Pipeline,
		Evaluator:  svc.Evaluator,
		Admins:     svc.LMS,
		Gatherer:   gatherer,
	})
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return engine
}

// RunServer boots the enterprise access API and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	serviceCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logCloser, err := logging.Setup(serviceCfg.Logging)
	if err != nil {
		return err
	}
	defer func() {
		if errClose := logCloser.Close(); errClose != nil {
			log.WithError(errClose).Warn("close log file")
		}
	}()

	conn, err := db.Open(serviceCfg.Database.DSN)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		log.WithError(errRefresh).Warn("initial settings load failed; using defaults")
	}
	settings.NewRefresher(conn).Start(ctx)

	svc, err := BuildServices(conn, serviceCfg, nil)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              serviceCfg.Server.Addr,
		Handler:           NewRouter(svc, serviceCfg.JWT.Secret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("starting enterprise access api on %s (config=%s)", serviceCfg.Server.Addr, configPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			errCh <- errServe
		}
		close(errCh)
	}()

	select {
	case errServe := <-errCh:
		if errServe != nil {
			return fmt.Errorf("app: serve: %w", errServe)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serviceCfg.Server.ShutdownTimeout)
	defer cancel()
	log.Info("shutting down enterprise access api")
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("app: shutdown: %w", errShutdown)
	}
	return nil
}

// upstreamOptions converts one upstream config section into client options.
func upstreamOptions(cfg config.UpstreamConfig) clients.Options {
	return clients.Options{BaseURL: cfg.BaseURL, Token: cfg.Token, Timeout: cfg.Timeout}
}

// newLockStore returns a redis-backed store when an address is configured,
// otherwise the in-process store.
func newLockStore(cfg config.RedisConfig) lock.Store {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		log.Warn("redis.addr is empty; policy locks only serialize this process")
		return lock.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	return lock.NewRedisStore(client)
}
