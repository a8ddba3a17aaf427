package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nightrift/nightrift/internal/archive"
	"github.com/nightrift/nightrift/internal/model"
)

// builtArtifact is the result of one archive build.
type builtArtifact struct {
	// Name is the artifact's base filename; the ledger stores this relative
	// name, not an absolute path.
	Name      string
	Path      string
	SizeBytes int64
	// CopyErrors lists per-file failures that were tolerated during the copy
	// phase. A non-empty list still produces an artifact, possibly incomplete.
	CopyErrors []string
}

// buildArtifact snapshots the configured sources into a timestamped working
// directory under the backups root, compresses it into a single archive, and
// removes the uncompressed directory. Per-source copy failures are collected,
// not fatal; only a failure of the archive step itself aborts the run.
func (m *Manager) buildArtifact(ctx context.Context, cfg model.BackupConfig) (*builtArtifact, error) {
	if err := os.MkdirAll(m.cfg.BackupsRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create backups root: %w", err)
	}

	name := "backup-" + time.Now().UTC().Format("20060102-150405")
	workDir := filepath.Join(m.cfg.BackupsRoot, name)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}

	var copyErrors []string

	if cfg.BackupDatabase {
		if err := m.snapshotDatabase(ctx, filepath.Join(workDir, databaseFileName)); err != nil {
			m.logger.Warn("database snapshot", "error", err)
			copyErrors = append(copyErrors, fmt.Sprintf("database: %v", err))
		}
	}

	if cfg.BackupUploads {
		errs := copyTree(m.cfg.UploadsDir, filepath.Join(workDir, "uploads"))
		for _, err := range errs {
			m.logger.Warn("uploads copy", "error", err)
			copyErrors = append(copyErrors, fmt.Sprintf("uploads: %v", err))
		}
	}

	archivePath := workDir + archive.Ext
	size, err := m.archiver.Create(workDir, archivePath)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("compress artifact: %w", err)
	}
	if err := os.RemoveAll(workDir); err != nil {
		m.logger.Warn("remove working dir", "dir", workDir, "error", err)
	}

	return &builtArtifact{
		Name:       filepath.Base(archivePath),
		Path:       archivePath,
		SizeBytes:  size,
		CopyErrors: copyErrors,
	}, nil
}

// snapshotDatabase checkpoints the WAL and copies the live database file.
func (m *Manager) snapshotDatabase(ctx context.Context, dest string) error {
	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if err := copyFile(m.cfg.DBPath, dest); err != nil {
		return fmt.Errorf("copy database: %w", err)
	}
	return nil
}

// copyTree recursively copies src into dest, preserving structure. One bad
// file must not abort the whole tree: failures are collected and returned.
func copyTree(src, dest string) []error {
	info, err := os.Stat(src)
	if err != nil {
		return []error{fmt.Errorf("stat %s: %w", src, err)}
	}
	if !info.IsDir() {
		return []error{fmt.Errorf("%s is not a directory", src)}
	}

	var errs []error
	walkErr := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				errs = append(errs, err)
				return filepath.SkipDir
			}
			return nil
		}
		if err := copyFile(path, target); err != nil {
			errs = append(errs, fmt.Errorf("copy %s: %w", rel, err))
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return errs
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
