package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nightrift/nightrift/internal/store"
)

// RestoreOptions selects the artifact to restore and whether to snapshot the
// live database first. The safety backup is the rollback target; disabling it
// removes the ability to roll back a failed swap.
type RestoreOptions struct {
	FilePath           string
	CreateSafetyBackup bool
}

// RestoreResult reports a committed restore.
type RestoreResult struct {
	RestoredFrom string
	SafetyBackup string
}

// Restore swaps a chosen artifact's database snapshot in over the live
// database. Ordering is strict: resolve, safety copy, locate payload,
// validate, swap. Any failure after the safety copy rolls the live database
// back to its pre-restore bytes before the error is returned. A successful
// restore deliberately writes no ledger row.
func (m *Manager) Restore(ctx context.Context, opts RestoreOptions) (*RestoreResult, error) {
	res, ok := m.ResolveArtifact(opts.FilePath)
	if !ok {
		return nil, fmt.Errorf("%w: %q (searched backups root, with and without %s, working dir, raw path)",
			ErrArtifactNotFound, opts.FilePath, "archive extension")
	}

	owner := fmt.Sprintf("restore-%d-%d", os.Getpid(), time.Now().UnixNano())
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

	result := &RestoreResult{RestoredFrom: res.Path}

	// Safety copy strictly precedes any destructive action.
	var safetyPath string
	if opts.CreateSafetyBackup {
		safetyPath, err = m.createSafetyBackup()
		if err != nil {
			return nil, fmt.Errorf("create safety backup: %w", err)
		}
		result.SafetyBackup = safetyPath
	}

	candidate, cleanup, err := m.locatePayload(res)
	if cleanup != nil {
		defer cleanup()
	}
	if err != nil {
		return nil, m.rollback(safetyPath, err)
	}

	if err := m.validateCandidate(candidate); err != nil {
		return nil, m.rollback(safetyPath, err)
	}

	if err := m.swap(ctx, candidate); err != nil {
		return nil, m.rollback(safetyPath, err)
	}

	if m.onRestore != nil {
		m.onRestore()
	}

	m.logger.Info("restore committed", "from", res.Path, "safety_backup", safetyPath)
	return result, nil
}

// createSafetyBackup snapshots the live database into the safety directory.
// Returns an empty path when there is no live database to protect.
func (m *Manager) createSafetyBackup() (string, error) {
	if _, err := os.Stat(m.cfg.DBPath); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	safetyDir := filepath.Join(m.cfg.BackupsRoot, "safety")
	if err := os.MkdirAll(safetyDir, 0o755); err != nil {
		return "", err
	}

	safetyPath := filepath.Join(safetyDir, "pre-restore-"+time.Now().UTC().Format("20060102-150405")+".db")
	if err := copyFile(m.cfg.DBPath, safetyPath); err != nil {
		return "", err
	}
	m.logger.Info("safety backup created", "path", safetyPath)
	return safetyPath, nil
}

// locatePayload finds the database snapshot inside the resolved artifact. A
// directory artifact is read in place; an archive is extracted to a temp
// directory which the returned cleanup removes on every path.
func (m *Manager) locatePayload(res Resolved) (string, func(), error) {
	if res.IsDir {
		candidate := filepath.Join(res.Path, databaseFileName)
		if _, err := os.Stat(candidate); err != nil {
			return "", nil, fmt.Errorf("artifact directory %s does not contain %s", res.Path, databaseFileName)
		}
		return candidate, nil, nil
	}

	tempDir, err := os.MkdirTemp("", "nightrift-restore-")
	if err != nil {
		return "", nil, fmt.Errorf("create extraction dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(tempDir); err != nil {
			m.logger.Warn("remove extraction dir", "dir", tempDir, "error", err)
		}
	}

	if err := m.archiver.Extract(res.Path, tempDir); err != nil {
		return "", cleanup, fmt.Errorf("extract archive %s: %w", res.Path, err)
	}

	// Archive internal layout varies across eras, so search the whole tree.
	candidate, found := findFile(tempDir, databaseFileName)
	if !found {
		return "", cleanup, fmt.Errorf("extracted archive %s does not contain %s", res.Path, databaseFileName)
	}
	return candidate, cleanup, nil
}

// findFile depth-first searches root for a file with the given name.
func findFile(root, name string) (string, bool) {
	var foundPath string
	filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && info.Name() == name {
			foundPath = path
			return filepath.SkipAll
		}
		return nil
	})
	return foundPath, foundPath != ""
}

// validateCandidate runs a SQLite integrity check over the candidate file.
// Inability to run the check at all is only a warning; a check that runs and
// reports corruption fails the restore before the swap.
func (m *Manager) validateCandidate(candidate string) error {
	db, err := sql.Open("sqlite", candidate+"?mode=ro")
	if err != nil {
		m.logger.Warn("integrity check unavailable", "error", err)
		return nil
	}
	defer db.Close()

	var integrity string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		m.logger.Warn("integrity check unavailable", "error", err)
		return nil
	}
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}
	return nil
}

// swap copies the validated candidate over the live database path. This is
// the only irreversible step.
func (m *Manager) swap(ctx context.Context, candidate string) error {
	// Flush the live WAL so stale -wal/-shm files cannot shadow the new bytes.
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		m.logger.Warn("pre-swap wal checkpoint", "error", err)
	}

	if err := copyFile(candidate, m.cfg.DBPath); err != nil {
		return fmt.Errorf("swap database: %w", err)
	}

	os.Remove(m.cfg.DBPath + "-wal")
	os.Remove(m.cfg.DBPath + "-shm")
	return nil
}

// rollback restores the pre-restore snapshot, then returns the original error
// so the caller sees why the restore failed, not how the rollback went.
func (m *Manager) rollback(safetyPath string, cause error) error {
	if safetyPath == "" {
		return cause
	}
	if err := copyFile(safetyPath, m.cfg.DBPath); err != nil {
		m.logger.Error("rollback from safety backup failed", "safety", safetyPath, "error", err)
		return fmt.Errorf("%w (rollback from %s also failed: %v)", cause, safetyPath, err)
	}
	os.Remove(m.cfg.DBPath + "-wal")
	os.Remove(m.cfg.DBPath + "-shm")
	m.logger.Warn("restore rolled back", "safety", safetyPath, "cause", cause)
	return cause
}
