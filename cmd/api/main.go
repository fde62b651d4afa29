package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/visitsafe/server/internal/auth"
	"github.com/visitsafe/server/internal/config"
	"github.com/visitsafe/server/internal/db"
	httpserver "github.com/visitsafe/server/internal/http"
	"github.com/visitsafe/server/internal/http/handlers"
	"github.com/visitsafe/server/internal/logger"
	"github.com/visitsafe/server/internal/notify"
	"github.com/visitsafe/server/internal/push"
	"github.com/visitsafe/server/internal/repo"
	"github.com/visitsafe/server/internal/tokens"
	"github.com/visitsafe/server/internal/visitor"

	_ "github.com/lib/pq"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx := context.Background()

	database, err := db.Open(ctx, cfg.DatabaseURL, zlog)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := runMigrations(database); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	// Repositories
	residencyRepo := repo.NewResidencyRepo(database)
	blockRepo := repo.NewBlockRepo(database)
	flatRepo := repo.NewFlatRepo(database)
	residentRepo := repo.NewResidentRepo(database)
	guardRepo := repo.NewGuardRepo(database)
	requestRepo := repo.NewRequestRepo(database)

	// Push gateways: primary FCM when configured, otherwise a no-op so the
	// request lifecycle keeps working without notifications.
	var primary push.Gateway
	if cfg.FCMServerKey != "" {
		primary = push.NewFCMGateway(cfg.FCMServerKey, zlog)
	} else {
		primary = push.NewNoopGateway(zlog)
	}
	var fallback push.Gateway
	if cfg.OneSignalAppID != "" && cfg.OneSignalAPIKey != "" {
		fallback = push.NewOneSignalGateway(cfg.OneSignalAppID, cfg.OneSignalAPIKey, zlog)
	}

	directory := tokens.NewDirectory(residentRepo, guardRepo, flatRepo, blockRepo, residencyRepo, zlog)
	dispatcher := notify.NewDispatcher(primary, fallback, directory, requestRepo, cfg.BaseURL, zlog)

	visitorService := visitor.NewService(
		requestRepo, residentRepo, flatRepo, blockRepo, residencyRepo, dispatcher, zlog)

	jwtService := auth.NewJWTService(cfg.JWTSecret)
	authService := auth.NewAuthService(jwtService, residentRepo, guardRepo, residencyRepo)

	router := httpserver.NewRouter(httpserver.Handlers{
		Visitor: handlers.NewVisitorHandler(visitorService, zlog),
		Auth:    handlers.NewAuthHandler(authService, residencyRepo, zlog),
		Tokens:  handlers.NewTokenHandler(directory, zlog),
		Admin: handlers.NewAdminHandler(
			residencyRepo, blockRepo, flatRepo, residentRepo, guardRepo, dispatcher, zlog),
	}, jwtService)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		zlog.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal("server forced to shutdown", zap.Error(err))
	}

	zlog.Info("server exited")
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from the repo root)")
	}

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
