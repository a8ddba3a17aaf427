package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nightrift/nightrift/internal/backup"
	"github.com/nightrift/nightrift/internal/database"
	"github.com/nightrift/nightrift/internal/logging"
	"github.com/nightrift/nightrift/internal/server"
)

func main() {
	logger := logging.Setup(os.Getenv("NIGHTRIFT_LOG_LEVEL"), os.Getenv("NIGHTRIFT_LOG_FORMAT"))

	port := envOr("NIGHTRIFT_PORT", "8080")
	dbPath := envOr("NIGHTRIFT_DB_PATH", "nightrift.db")

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	cfg := server.Config{
		CronSecret:    os.Getenv("NIGHTRIFT_CRON_SECRET"),
		AdminToken:    os.Getenv("NIGHTRIFT_ADMIN_TOKEN"),
		PostmarkToken: os.Getenv("NIGHTRIFT_POSTMARK_TOKEN"),
		FromEmail:     os.Getenv("NIGHTRIFT_FROM_EMAIL"),
		Backup: backup.Config{
			DBPath:      dbPath,
			UploadsDir:  envOr("NIGHTRIFT_UPLOADS_DIR", "uploads"),
			BackupsRoot: envOr("NIGHTRIFT_BACKUPS_DIR", "backups"),
		},
	}

	srv := server.New(db, cfg, logger)
	srv.BackupManager().OnRestore(func() {
		database.Refresh(db)
	})

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Minute, // large archive builds and restores run inside a request
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("nightrift listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
