package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pierregrothe/graphrag-api-sub000/internal/api"
	"github.com/pierregrothe/graphrag-api-sub000/internal/audit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/config"
	"github.com/pierregrothe/graphrag-api-sub000/internal/ratelimit"
	"github.com/pierregrothe/graphrag-api-sub000/internal/repository/postgres"
	"github.com/pierregrothe/graphrag-api-sub000/internal/revocation"
	"github.com/pierregrothe/graphrag-api-sub000/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize database
	db, err := postgres.NewConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	// Initialize repositories
	repos := postgres.NewRepositories(db)

	// Shared in-process components, constructed once and injected
	registry := revocation.NewRegistry(time.Minute)
	defer registry.Close()

	loginLimiter := ratelimit.New(cfg.LoginRateLimitPerMinute, time.Minute)
	defer loginLimiter.Close()

	keyLimiter := ratelimit.New(cfg.APIKeyDefaultRateLimit, cfg.APIKeyRateLimitWindow)
	defer keyLimiter.Close()

	auditLog := audit.NewLogger(os.Stdout, 1024)
	defer auditLog.Close()

	// Initialize services
	services := service.NewServices(service.Deps{
		Repos:        repos,
		Registry:     registry,
		LoginLimiter: loginLimiter,
		KeyLimiter:   keyLimiter,
		Audit:        auditLog,
		Config:       cfg,
	})

	// Initialize router
	router := api.NewRouter(services)

	// Expired sessions pile up without a reaper
	sweepDone := make(chan struct{})
	sweepStop := make(chan struct{})
	go func() {
		defer close(sweepDone)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepStop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if err := repos.Session.DeleteExpired(ctx, time.Now()); err != nil {
					log.Printf("ERROR [main] deleting expired sessions: %v", err)
				}
				cancel()
			}
		}
	}()

	// Create server
	srv := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	close(sweepStop)
	<-sweepDone

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
