package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nightrift/nightrift/internal/backup"
	"github.com/nightrift/nightrift/internal/handler"
	"github.com/nightrift/nightrift/internal/middleware"
	"github.com/nightrift/nightrift/internal/notify"
	"github.com/nightrift/nightrift/internal/store"
)

// Config holds the process-level configuration the server is wired with.
type Config struct {
	// CronSecret gates /api/cron/backup.
	CronSecret string
	// AdminToken gates /api/admin/*.
	AdminToken string
	// PostmarkToken and FromEmail configure the email notifier; empty token
	// disables email.
	PostmarkToken string
	FromEmail     string

	Backup backup.Config
}

type Server struct {
	db            *sql.DB
	cfg           Config
	backupManager *backup.Manager
	backupH       *handler.BackupHandler
	settingsH     *handler.SettingsHandler
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	backupStore := store.NewBackupStore(db)
	settingsStore := store.NewSettingsStore(db)
	lockStore := store.NewLockStore(db)

	var emailClient *notify.EmailClient
	if cfg.PostmarkToken != "" {
		emailClient = notify.NewEmailClient(cfg.PostmarkToken, cfg.FromEmail)
	}
	notifier := notify.NewService(emailClient, notify.NewWebhookSender(), logger.With("component", "notify"))

	backupMgr := backup.NewManager(cfg.Backup, db, backupStore, settingsStore, lockStore,
		notifier, logger.With("component", "backup"))

	return &Server{
		db:            db,
		cfg:           cfg,
		backupManager: backupMgr,
		backupH:       handler.NewBackupHandler(backupMgr, backupStore, logger.With("component", "backup_handler")),
		settingsH:     handler.NewSettingsHandler(settingsStore),
		logger:        logger,
	}
}

// BackupManager returns the backup manager for post-restore wiring.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Cron trigger, gated by its own bearer secret.
	cronMux := http.NewServeMux()
	cronMux.HandleFunc("GET /api/cron/backup", s.backupH.Cron)
	outerMux.Handle("GET /api/cron/backup", middleware.BearerAuth(s.cfg.CronSecret)(cronMux))

	// Admin API, gated by the admin bearer token.
	adminMux := http.NewServeMux()
	s.registerAdminRoutes(adminMux)
	outerMux.Handle("/api/admin/", middleware.BearerAuth(s.cfg.AdminToken)(adminMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/backup/history", s.backupH.History)
	mux.HandleFunc("DELETE /api/admin/backup/history", s.backupH.DeleteHistory)
	mux.HandleFunc("GET /api/admin/backup/restore", s.backupH.RestoreList)
	mux.HandleFunc("POST /api/admin/backup/restore", s.backupH.Restore)
	mux.HandleFunc("POST /api/admin/backup/run", s.backupH.RunNow)
	mux.HandleFunc("GET /api/admin/backup/settings", s.settingsH.GetBackup)
	mux.HandleFunc("PUT /api/admin/backup/settings", s.settingsH.UpdateBackup)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
