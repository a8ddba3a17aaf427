package model

import "time"

type BackupType string

const (
	BackupTypeManual BackupType = "manual"
	BackupTypeAuto   BackupType = "auto"
)

type BackupStatus string

const (
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusSuccess    BackupStatus = "success"
	BackupStatusFailed     BackupStatus = "failed"
)

// Backup is one row of the backup ledger. The ledger is the system of record
// for what backup attempts happened and how they ended; the artifact on disk
// is located through ArtifactPath, which is a hint rather than a guaranteed
// key (see backup.ResolveArtifact).
type Backup struct {
	ID              int64        `json:"id"`
	Type            BackupType   `json:"type"`
	Status          BackupStatus `json:"status"`
	ArtifactPath    string       `json:"artifact_path,omitempty"`
	RemoteURL       string       `json:"remote_url,omitempty"`
	SizeBytes       int64        `json:"size_bytes"`
	DurationSeconds float64      `json:"duration_seconds"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// Terminal reports whether the record has reached a final status.
func (b *Backup) Terminal() bool {
	return b.Status == BackupStatusSuccess || b.Status == BackupStatusFailed
}
