package backup

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nightrift/nightrift/internal/archive"
)

// Resolved is a ledger artifact path pinned to a real filesystem location.
type Resolved struct {
	Path  string
	IsDir bool
}

// ResolveArtifact maps a recorded artifact path to a real file or directory.
// The ledger's artifact_path is a hint, not a guaranteed key: historical rows
// may carry a bare filename, a relative path, an absolute path from another
// working directory, or a name with or without the archive extension. Every
// read site (history, restore, orphan sweep) goes through this one candidate
// list so the sites cannot drift apart.
func (m *Manager) ResolveArtifact(artifactPath string) (Resolved, bool) {
	if strings.TrimSpace(artifactPath) == "" {
		return Resolved{}, false
	}

	base := filepath.Base(artifactPath)
	candidates := []string{
		filepath.Join(m.cfg.BackupsRoot, base),
		filepath.Join(m.cfg.BackupsRoot, strings.TrimSuffix(base, archive.Ext)),
	}
	if cwd, err := os.Getwd(); err == nil && !filepath.IsAbs(artifactPath) {
		candidates = append(candidates, filepath.Join(cwd, artifactPath))
	}
	candidates = append(candidates, artifactPath)

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}
		return Resolved{Path: candidate, IsDir: info.IsDir()}, true
	}
	return Resolved{}, false
}
