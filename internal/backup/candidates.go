package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// safetyDirName holds pre-restore snapshots; it is operator-managed and never
// offered as a restore candidate or pruned by retention.
const safetyDirName = "safety"

// RestoreCandidate is one artifact an operator may restore from. Source says
// which system of record produced the entry: the ledger ("database") or a raw
// listing of the backups root ("filesystem") for artifacts the ledger never
// recorded.
type RestoreCandidate struct {
	FileName   string     `json:"fileName"`
	FilePath   string     `json:"filePath"`
	FileExists bool       `json:"fileExists"`
	IsDir      bool       `json:"isDirectory"`
	Source     string     `json:"source"`
	SizeBytes  int64      `json:"sizeBytes,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
}

// RestoreCandidates merges successful ledger rows with the backups-root
// directory listing, deduplicated by base filename with the ledger winning.
func (m *Manager) RestoreCandidates() ([]RestoreCandidate, error) {
	seen := make(map[string]bool)
	var candidates []RestoreCandidate

	ledgerRows, err := m.ledger.ListSuccessful()
	if err != nil {
		return nil, err
	}
	for _, b := range ledgerRows {
		name := filepath.Base(b.ArtifactPath)
		if name == "" || name == "." || seen[name] {
			continue
		}
		seen[name] = true

		c := RestoreCandidate{
			FileName:  name,
			FilePath:  b.ArtifactPath,
			Source:    "database",
			SizeBytes: b.SizeBytes,
		}
		created := b.CreatedAt
		c.CreatedAt = &created
		if res, ok := m.ResolveArtifact(b.ArtifactPath); ok {
			c.FileExists = true
			c.FilePath = res.Path
			c.IsDir = res.IsDir
		}
		candidates = append(candidates, c)
	}

	entries, err := os.ReadDir(m.cfg.BackupsRoot)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("list backups root: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if name == safetyDirName || seen[name] {
			continue
		}
		seen[name] = true

		c := RestoreCandidate{
			FileName:   name,
			FilePath:   filepath.Join(m.cfg.BackupsRoot, name),
			FileExists: true,
			IsDir:      entry.IsDir(),
			Source:     "filesystem",
		}
		if info, err := entry.Info(); err == nil {
			if !entry.IsDir() {
				c.SizeBytes = info.Size()
			}
			mod := info.ModTime().UTC()
			c.CreatedAt = &mod
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i].CreatedAt, candidates[j].CreatedAt
		if ci == nil || cj == nil {
			return ci != nil
		}
		return ci.After(*cj)
	})
	return candidates, nil
}

// DeleteRecord removes one ledger row and best-effort deletes its artifact.
// The three return values let callers distinguish "ledger cleaned, file was
// already missing" from "both removed" from "file delete failed".
func (m *Manager) DeleteRecord(id int64) (foundPath string, fileDeleted bool, deleteErr error, err error) {
	record, err := m.ledger.GetByID(id)
	if err != nil {
		return "", false, nil, err
	}
	if record == nil {
		return "", false, nil, fmt.Errorf("backup record %d not found", id)
	}

	if res, ok := m.ResolveArtifact(record.ArtifactPath); ok {
		foundPath = res.Path
		if removeErr := os.RemoveAll(res.Path); removeErr != nil {
			deleteErr = removeErr
			m.logger.Warn("delete artifact", "path", res.Path, "error", removeErr)
		} else {
			fileDeleted = true
		}
	}

	if err := m.ledger.Delete(id); err != nil {
		return foundPath, fileDeleted, deleteErr, err
	}
	return foundPath, fileDeleted, deleteErr, nil
}
