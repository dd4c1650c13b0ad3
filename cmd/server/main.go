package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanapbuhay/chat-service/internal/config"
	"github.com/hanapbuhay/chat-service/internal/domain"
	"github.com/hanapbuhay/chat-service/internal/httpserver"
	"github.com/hanapbuhay/chat-service/internal/observ"
	"github.com/hanapbuhay/chat-service/internal/security"
	"github.com/hanapbuhay/chat-service/internal/service"
	"github.com/hanapbuhay/chat-service/internal/store/postgres"
	"github.com/hanapbuhay/chat-service/internal/store/sqlite"
	"github.com/hanapbuhay/chat-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, repos, err := openStore(cfg)
	if err != nil {
		logger.Fatal("open store", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer db.Close()

	// The shared global room must exist before any client connects.
	roomSvc := service.NewRoomService(repos.Rooms, repos.Participants, repos.Users)
	if _, err := roomSvc.EnsureGlobal(context.Background(), cfg.GlobalRoomName); err != nil {
		logger.Fatal("ensure global room", zap.Error(err))
	}

	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	hub := ws.NewHub()
	var broadcast ws.Broadcaster = hub
	if cfg.RedisURL != "" {
		bridge, err := ws.NewBridge(hub, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("connect redis bridge", zap.String("url", cfg.RedisURL), zap.Error(err))
		}
		defer bridge.Close()
		broadcast = bridge
		logger.Info("redis bridge enabled")
	}

	router := httpserver.NewRouter(cfg, db, repos, hub, broadcast, tokenSvc, passwordHasher, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.HTTPAddr()),
			zap.String("driver", cfg.DBDriver))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openStore(cfg *config.Config) (*sql.DB, domain.Repositories, error) {
	switch cfg.DBDriver {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, domain.Repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, domain.Repositories{}, err
		}
		return db, postgres.NewRepositories(db), nil
	default:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, domain.Repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, domain.Repositories{}, err
		}
		return db, sqlite.NewRepositories(db), nil
	}
}
