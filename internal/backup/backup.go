package backup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nightrift/nightrift/internal/archive"
	"github.com/nightrift/nightrift/internal/model"
	"github.com/nightrift/nightrift/internal/notify"
	"github.com/nightrift/nightrift/internal/store"
)

// StalenessWindow is how long an in_progress ledger row or a held operation
// lock is trusted before it is presumed abandoned by a crashed run.
const StalenessWindow = time.Hour

// databaseFileName is the name the live database snapshot carries inside every
// artifact, and the name the restore engine searches for.
const databaseFileName = "database.db"

var (
	// ErrOperationInProgress is returned when another backup or restore holds
	// the advisory lock.
	ErrOperationInProgress = errors.New("another backup or restore operation is in progress")

	// ErrArtifactNotFound is returned when a restore target cannot be resolved
	// under any candidate path.
	ErrArtifactNotFound = errors.New("backup artifact not found")
)

// Notifier receives best-effort reports of terminal backup outcomes. Failures
// inside the notifier must never surface as backup failures.
type Notifier interface {
	BackupOutcome(ctx context.Context, o notify.Outcome)
}

// RemoteStore is the remote replication target for finished artifacts.
type RemoteStore interface {
	Upload(ctx context.Context, localPath, name string) (string, error)
	Prune(ctx context.Context, keep int) error
}

// RemoteFactory builds a RemoteStore from the opaque storage configuration.
type RemoteFactory func(sc model.StorageConfig, logger *slog.Logger) RemoteStore

// Config holds the filesystem layout the backup engine operates on.
type Config struct {
	// DBPath is the live SQLite database file.
	DBPath string
	// UploadsDir is the asset tree included in artifacts when enabled.
	UploadsDir string
	// BackupsRoot holds one artifact per attempt plus the safety/ directory.
	BackupsRoot string
}

// Manager owns the whole backup/restore lifecycle: trigger gating, artifact
// building, retention, remote replication, orphan reconciliation, and restore.
type Manager struct {
	cfg      Config
	db       *sql.DB
	ledger   *store.BackupStore
	settings *store.SettingsStore
	locks    *store.LockStore

	archiver  archive.Archiver
	notifier  Notifier
	newRemote RemoteFactory
	onRestore func()

	logger *slog.Logger
}

func NewManager(cfg Config, db *sql.DB, ledger *store.BackupStore, settings *store.SettingsStore, locks *store.LockStore, notifier Notifier, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		db:        db,
		ledger:    ledger,
		settings:  settings,
		locks:     locks,
		archiver:  archive.TarGz{},
		notifier:  notifier,
		newRemote: newS3Remote,
		logger:    logger,
	}
}

// OnRestore registers a hook invoked after a successful restore swap, used to
// make the live connection pool reopen the swapped database file.
func (m *Manager) OnRestore(fn func()) {
	m.onRestore = fn
}

// LoadConfig reads the persisted backup configuration.
func (m *Manager) LoadConfig() (model.BackupConfig, error) {
	settings, err := m.settings.GetBackupSettings()
	if err != nil {
		return model.BackupConfig{}, fmt.Errorf("load backup settings: %w", err)
	}
	return model.BackupConfigFromSettings(settings), nil
}

// TriggerResult is the outcome of one scheduler invocation.
type TriggerResult struct {
	Skipped bool
	Reason  string
	Run     *RunResult
}

// RunIfDue decides whether an automatic backup is due and runs one if so.
// Repeated invocations inside the frequency window are no-ops, not errors:
// that is the idempotency mechanism that lets an hourly cron produce at most
// one backup per period.
func (m *Manager) RunIfDue(ctx context.Context) (*TriggerResult, error) {
	cfg, err := m.LoadConfig()
	if err != nil {
		return nil, err
	}

	if !cfg.AutoBackup {
		return &TriggerResult{Skipped: true, Reason: "automatic backups are disabled"}, nil
	}

	inProgress, err := m.ledger.HasInProgress(time.Now().UTC().Add(-StalenessWindow))
	if err != nil {
		return nil, err
	}
	if inProgress {
		return &TriggerResult{Skipped: true, Reason: "a backup is already in progress"}, nil
	}

	last, err := m.ledger.LatestSuccessful(model.BackupTypeAuto)
	if err != nil {
		return nil, err
	}
	if last != nil {
		elapsed := time.Since(last.CreatedAt).Hours()
		if elapsed < cfg.Frequency.MinHours() {
			reason := fmt.Sprintf("not due: %.1f hours since last %s backup (minimum %.0f)",
				elapsed, cfg.Frequency, cfg.Frequency.MinHours())
			return &TriggerResult{Skipped: true, Reason: reason}, nil
		}
	}

	run, err := m.Run(ctx, model.BackupTypeAuto)
	if err != nil {
		return nil, err
	}
	return &TriggerResult{Run: run}, nil
}

// RunResult describes one completed backup run.
type RunResult struct {
	Record           *model.Backup
	UploadedToRemote bool
	// CopyErrors lists per-file copy failures that did not abort the run.
	CopyErrors []string
}

// Run executes one backup attempt end to end: ledger insert, advisory lock,
// artifact build, best-effort remote upload, terminal ledger update, retention
// and notification. The returned error reflects the build outcome only;
// upload, retention and notification failures are logged and swallowed.
func (m *Manager) Run(ctx context.Context, backupType model.BackupType) (*RunResult, error) {
	owner := fmt.Sprintf("%s-%d-%d", backupType, os.Getpid(), time.Now().UnixNano())
	acquired, err := m.locks.Acquire(store.LockName, owner, StalenessWindow)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrOperationInProgress
	}
	defer func() {
		if err := m.locks.Release(store.LockName, owner); err != nil {
			m.logger.Error("release operation lock", "error", err)
		}
	}()

	cfg, err := m.LoadConfig()
	if err != nil {
		return nil, err
	}

	record, err := m.ledger.Create(backupType)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	m.logger.Info("backup started", "id", record.ID, "type", backupType)

	built, err := m.buildArtifact(ctx, cfg)
	if err != nil {
		elapsed := time.Since(start)
		if markErr := m.ledger.MarkFailed(record.ID, err.Error(), elapsed); markErr != nil {
			m.logger.Error("mark backup failed", "id", record.ID, "error", markErr)
		}
		m.logger.Error("backup failed", "id", record.ID, "error", err)
		m.notifyOutcome(ctx, cfg, record.ID, backupType, 0, elapsed, err)
		return nil, err
	}

	remoteURL, uploaded := m.uploadArtifact(ctx, cfg, built)

	elapsed := time.Since(start)
	if err := m.ledger.MarkSuccess(record.ID, built.Name, built.SizeBytes, elapsed); err != nil {
		return nil, err
	}
	if remoteURL != "" {
		if err := m.ledger.SetRemoteURL(record.ID, remoteURL); err != nil {
			m.logger.Warn("record remote url", "id", record.ID, "error", err)
		}
	}

	if err := m.Prune(cfg.KeepBackups); err != nil {
		m.logger.Warn("retention prune", "error", err)
	}

	m.logger.Info("backup finished",
		"id", record.ID,
		"artifact", built.Name,
		"size_bytes", built.SizeBytes,
		"duration", elapsed,
		"uploaded", uploaded,
		"copy_errors", len(built.CopyErrors))
	m.notifyOutcome(ctx, cfg, record.ID, backupType, built.SizeBytes, elapsed, nil)

	record, err = m.ledger.GetByID(record.ID)
	if err != nil {
		return nil, err
	}
	return &RunResult{Record: record, UploadedToRemote: uploaded, CopyErrors: built.CopyErrors}, nil
}

// uploadArtifact pushes the artifact to remote storage when configured. Local
// success stands alone: every failure here is logged and swallowed.
func (m *Manager) uploadArtifact(ctx context.Context, cfg model.BackupConfig, built *builtArtifact) (string, bool) {
	if cfg.StorageType != model.StorageS3 {
		return "", false
	}

	sc, err := cfg.ParseStorageConfig()
	if err != nil {
		m.logger.Warn("parse storage config", "error", err)
		return "", false
	}
	if !sc.Configured() {
		m.logger.Warn("remote storage selected but not configured")
		return "", false
	}

	remote := m.newRemote(sc, m.logger.With("component", "remote"))
	remoteURL, err := remote.Upload(ctx, built.Path, built.Name)
	if err != nil {
		m.logger.Warn("remote upload", "artifact", built.Name, "error", err)
		return "", false
	}

	if err := remote.Prune(ctx, cfg.KeepBackups); err != nil {
		m.logger.Warn("remote retention prune", "error", err)
	}
	return remoteURL, true
}

func (m *Manager) notifyOutcome(ctx context.Context, cfg model.BackupConfig, id int64, backupType model.BackupType, size int64, elapsed time.Duration, runErr error) {
	if m.notifier == nil {
		return
	}
	o := notify.Outcome{
		BackupID: id,
		Type:     string(backupType),
		Success:  runErr == nil,
		Size:     size,
		Duration: elapsed,
	}
	if runErr != nil {
		o.Error = runErr.Error()
	}
	if cfg.EmailNotify {
		o.Email = cfg.NotifyEmail
	}
	o.WebhookURL = cfg.WebhookURL
	m.notifier.BackupOutcome(ctx, o)
}
