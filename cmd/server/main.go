package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecoswap/config"
	"ecoswap/internal/database"
	"ecoswap/internal/matching"
	"ecoswap/internal/router"
	"ecoswap/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg.Server.Env)

	levels, err := service.ParseLevelTable(cfg.Points.Levels)
	if err != nil {
		log.Error("level table", "error", err)
		os.Exit(1)
	}
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Error("database", "error", err)
		os.Exit(1)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Error("migrate", "error", err)
		os.Exit(1)
	}

	client := matching.NewHTTPClient(matching.Options{
		BaseURL:       cfg.Matching.BaseURL,
		APIKey:        cfg.Matching.APIKey,
		PublicBaseURL: cfg.Matching.PublicBaseURL,
		CallTimeout:   cfg.Matching.CallTimeout,
	}, log)

	if cfg.Points.AdminAPIKey == "" {
		log.Warn("ADMIN_API_KEY not set, point grants are disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine := router.Setup(ctx, cfg, db, client, levels, log)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("server listening", "port", cfg.Server.Port, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func newLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var h slog.Handler
	if env == "production" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
