package testutil

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pierregrothe/graphrag-api-sub000/internal/api"
	"github.com/pierregrothe/graphrag-api-sub000/internal/audit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/config"
	"github.com/pierregrothe/graphrag-api-sub000/internal/domain"
	"github.com/pierregrothe/graphrag-api-sub000/internal/ratelimit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/repository"
	repoPostgres "github.com/pierregrothe/graphrag-api-sub000/internal/repository/postgres"
	"github.com/pierregrothe/graphrag-api-sub000/internal/revocation"
	"github.com/pierregrothe/graphrag-api-sub000/internal/service"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB manages a testcontainers PostgreSQL instance
type TestDB struct {
	Container testcontainers.Container
	DB        *gorm.DB
	DSN       string
}

// NewTestDB creates a new PostgreSQL testcontainer and returns a connection
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()

	ctx := context.Background()

	container, err := tcPostgres.Run(ctx,
		"postgres:15-alpine",
		tcPostgres.WithDatabase("test_auth"),
		tcPostgres.WithUsername("test"),
		tcPostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	db, err := gorm.Open(gormPostgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&domain.User{},
		&domain.Session{},
		&domain.APIKey{},
	)
	if err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	testDB := &TestDB{
		Container: container,
		DB:        db,
		DSN:       dsn,
	}

	t.Cleanup(func() {
		testDB.Cleanup()
	})

	return testDB
}

// Cleanup terminates the container
func (tdb *TestDB) Cleanup() {
	if tdb.Container != nil {
		ctx := context.Background()
		tdb.Container.Terminate(ctx)
	}
}

// Truncate clears all tables for test isolation
func (tdb *TestDB) Truncate(t *testing.T) {
	t.Helper()

	tables := []string{
		"api_keys",
		"sessions",
		"users",
	}

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			t.Logf("warning: failed to truncate %s: %v", table, err)
		}
	}
}

// TestConfig returns a configuration suitable for testing
func TestConfig() *config.Config {
	return &config.Config{
		Port:                    "0", // Random port
		Environment:             "test",
		SecretKey:               "test-secret-key-for-testing-only",
		Algorithm:               "HS256",
		AccessTokenTTL:          time.Hour,
		RefreshTokenTTL:         24 * time.Hour,
		LoginRateLimitPerMinute: 5,
		APIKeyDefaultRateLimit:  1000,
		APIKeyRateLimitWindow:   time.Hour,
		APIKeyDefaultTTL:        90 * 24 * time.Hour,
		APIKeyRotationGrace:     5 * time.Minute,
	}
}

// TestServer holds all components for integration testing
type TestServer struct {
	Server   *httptest.Server
	DB       *TestDB
	Repos    *repository.Repositories
	Services *service.Services
	Config   *config.Config

	registry     *revocation.Registry
	loginLimiter *ratelimit.Limiter
	keyLimiter   *ratelimit.Limiter
}

// NewTestServer creates a complete test server with all dependencies
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	testDB := NewTestDB(t)
	cfg := TestConfig()

	repos := repoPostgres.NewRepositories(testDB.DB)
	registry := revocation.NewRegistry(time.Minute)
	loginLimiter := ratelimit.New(cfg.LoginRateLimitPerMinute, time.Minute)
	keyLimiter := ratelimit.New(cfg.APIKeyDefaultRateLimit, cfg.APIKeyRateLimitWindow)
	auditLog := audit.NewLogger(io.Discard, 1024)

	services := service.NewServices(service.Deps{
		Repos:        repos,
		Registry:     registry,
		LoginLimiter: loginLimiter,
		KeyLimiter:   keyLimiter,
		Audit:        auditLog,
		Config:       cfg,
	})
	router := api.NewRouter(services)

	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:       server,
		DB:           testDB,
		Repos:        repos,
		Services:     services,
		Config:       cfg,
		registry:     registry,
		loginLimiter: loginLimiter,
		keyLimiter:   keyLimiter,
	}

	t.Cleanup(func() {
		server.Close()
		auditLog.Close()
		keyLimiter.Close()
		loginLimiter.Close()
		registry.Close()
	})

	return ts
}

// BaseURL returns the test server's base URL
func (ts *TestServer) BaseURL() string {
	return ts.Server.URL
}

// AuthURL returns the full URL for a path under /auth
func (ts *TestServer) AuthURL(path string) string {
	return fmt.Sprintf("%s/auth%s", ts.Server.URL, path)
}

// AuditStreamURL returns the WebSocket URL for the audit stream
func (ts *TestServer) AuditStreamURL() string {
	return "ws" + ts.Server.URL[4:] + "/auth/audit/stream"
}
