package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"brand-diagnosis/internal/api"
	"brand-diagnosis/internal/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("load .env")
	}
	if level, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL"))); err == nil {
		logrus.SetLevel(level)
	}

	configPath := strings.TrimSpace(os.Getenv("BRAND_DIAGNOSIS_CONFIG"))
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}

	if dir := filepath.Dir(cfg.Server.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
	}

	server, err := api.NewServer(api.Config{
		DBPath:         cfg.Server.DBPath,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		SilentDB:       cfg.Server.SilentDB,
		APIKey:         cfg.Server.APIKey,
		AIConfig:       cfg.AI.Config,
		AIMaxRetries:   cfg.AI.MaxRetries,
		DisableAI:      cfg.AI.Disable,
		RiskThresholds: cfg.Scoring.Thresholds(),
	})
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logrus.WithFields(logrus.Fields{
			"port":    cfg.Server.Port,
			"db_path": cfg.Server.DBPath,
			"config":  configPath,
		}).Info("starting brand-diagnosis server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	if err := server.Close(); err != nil {
		logrus.WithError(err).Warn("close server")
	}
}
