package backup

import (
	"fmt"
	"os"
	"time"

	"github.com/nightrift/nightrift/internal/model"
)

// Prune enforces the keep-N-most-recent policy over successful backups. Rows
// beyond the keep count lose their on-disk artifact (best effort) and their
// ledger row; a failed disk deletion still removes the row, and the resulting
// divergence is reconciled later by CleanOrphans.
func (m *Manager) Prune(keep int) error {
	if keep <= 0 {
		return nil
	}

	backups, err := m.ledger.ListSuccessful()
	if err != nil {
		return err
	}
	if len(backups) <= keep {
		return nil
	}

	for _, b := range backups[keep:] {
		if res, ok := m.ResolveArtifact(b.ArtifactPath); ok {
			if err := os.RemoveAll(res.Path); err != nil {
				m.logger.Warn("delete pruned artifact", "path", res.Path, "error", err)
			}
		}
		if err := m.ledger.Delete(b.ID); err != nil {
			return fmt.Errorf("delete pruned record %d: %w", b.ID, err)
		}
		m.logger.Info("pruned backup", "id", b.ID, "artifact", b.ArtifactPath)
	}
	return nil
}

// CleanOrphans reconciles the ledger with the filesystem: rows whose artifact
// no longer exists under any candidate path are removed, as are in_progress
// rows older than the staleness window (abandoned by a crashed run). Returns
// the number of rows deleted.
func (m *Manager) CleanOrphans() (int, error) {
	backups, err := m.ledger.All()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, b := range backups {
		if !m.isOrphan(b) {
			continue
		}
		if err := m.ledger.Delete(b.ID); err != nil {
			return deleted, fmt.Errorf("delete orphan record %d: %w", b.ID, err)
		}
		m.logger.Info("removed orphan record", "id", b.ID, "status", b.Status, "artifact", b.ArtifactPath)
		deleted++
	}
	return deleted, nil
}

func (m *Manager) isOrphan(b model.Backup) bool {
	if b.Status == model.BackupStatusInProgress {
		return time.Since(b.CreatedAt) > StalenessWindow
	}
	_, ok := m.ResolveArtifact(b.ArtifactPath)
	return !ok
}
