package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/nightrift/nightrift/internal/model"
)

type BackupStore struct {
	db *sql.DB
}

func NewBackupStore(db *sql.DB) *BackupStore {
	return &BackupStore{db: db}
}

const backupColumns = `id, type, status, artifact_path, remote_url, size_bytes, duration_seconds, error_message, created_at, completed_at`

func scanBackup(row interface{ Scan(...any) error }) (*model.Backup, error) {
	b := &model.Backup{}
	var artifactPath, remoteURL, errMsg sql.NullString
	var completedAt sql.NullTime
	err := row.Scan(&b.ID, &b.Type, &b.Status, &artifactPath, &remoteURL,
		&b.SizeBytes, &b.DurationSeconds, &errMsg, &b.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	b.ArtifactPath = artifactPath.String
	b.RemoteURL = remoteURL.String
	b.ErrorMessage = errMsg.String
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return b, nil
}

// Create inserts a new ledger row with status in_progress.
func (s *BackupStore) Create(backupType model.BackupType) (*model.Backup, error) {
	now := time.Now().UTC()
	result, err := s.db.Exec(
		`INSERT INTO backups (type, status, created_at) VALUES (?, ?, ?)`,
		backupType, model.BackupStatusInProgress, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create backup record: %w", err)
	}
	id, _ := result.LastInsertId()
	return &model.Backup{
		ID:        id,
		Type:      backupType,
		Status:    model.BackupStatusInProgress,
		CreatedAt: now,
	}, nil
}

func (s *BackupStore) GetByID(id int64) (*model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(
		`SELECT `+backupColumns+` FROM backups WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %d: %w", id, err)
	}
	return b, nil
}

// List returns ledger rows newest-first, up to limit.
func (s *BackupStore) List(limit int) ([]model.Backup, error) {
	rows, err := s.db.Query(
		`SELECT `+backupColumns+` FROM backups ORDER BY created_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

// ListSuccessful returns success rows newest-first.
func (s *BackupStore) ListSuccessful() ([]model.Backup, error) {
	rows, err := s.db.Query(
		`SELECT `+backupColumns+` FROM backups WHERE status = ? ORDER BY created_at DESC, id DESC`,
		model.BackupStatusSuccess,
	)
	if err != nil {
		return nil, fmt.Errorf("list successful backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}

func collectBackups(rows *sql.Rows) ([]model.Backup, error) {
	var backups []model.Backup
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	return backups, rows.Err()
}

// LatestSuccessful returns the newest success row of the given type, or nil.
func (s *BackupStore) LatestSuccessful(backupType model.BackupType) (*model.Backup, error) {
	b, err := scanBackup(s.db.QueryRow(
		`SELECT `+backupColumns+` FROM backups WHERE type = ? AND status = ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		backupType, model.BackupStatusSuccess,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest successful backup: %w", err)
	}
	return b, nil
}

// HasInProgress reports whether a non-stale in_progress row exists. Rows older
// than staleBefore are presumed abandoned by a crashed run and ignored.
func (s *BackupStore) HasInProgress(staleBefore time.Time) (bool, error) {
	var count int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM backups WHERE status = ? AND created_at >= ?`,
		model.BackupStatusInProgress, staleBefore,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count in-progress backups: %w", err)
	}
	return count > 0, nil
}

// MarkSuccess transitions a row to its success terminal state with final metrics.
func (s *BackupStore) MarkSuccess(id int64, artifactPath string, sizeBytes int64, duration time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE backups SET status = ?, artifact_path = ?, size_bytes = ?, duration_seconds = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		model.BackupStatusSuccess, artifactPath, sizeBytes, duration.Seconds(), now,
		id, model.BackupStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("mark backup success: %w", err)
	}
	return requireTransition(res, id)
}

// MarkFailed transitions a row to its failed terminal state.
func (s *BackupStore) MarkFailed(id int64, errorMsg string, duration time.Duration) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE backups SET status = ?, error_message = ?, duration_seconds = ?, completed_at = ?
		 WHERE id = ? AND status = ?`,
		model.BackupStatusFailed, errorMsg, duration.Seconds(), now,
		id, model.BackupStatusInProgress,
	)
	if err != nil {
		return fmt.Errorf("mark backup failed: %w", err)
	}
	return requireTransition(res, id)
}

// requireTransition enforces that terminal updates only ever move a row out of
// in_progress. A zero row count means the record was already terminal or gone.
func requireTransition(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("backup %d is not in progress", id)
	}
	return nil
}

// SetRemoteURL records the uploaded copy's location. Best-effort metadata, so
// it intentionally does not gate on status.
func (s *BackupStore) SetRemoteURL(id int64, remoteURL string) error {
	_, err := s.db.Exec(`UPDATE backups SET remote_url = ? WHERE id = ?`, remoteURL, id)
	if err != nil {
		return fmt.Errorf("set remote url: %w", err)
	}
	return nil
}

func (s *BackupStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM backups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete backup %d: %w", id, err)
	}
	return nil
}

// All returns every ledger row, oldest-first. Used by the orphan sweep.
func (s *BackupStore) All() ([]model.Backup, error) {
	rows, err := s.db.Query(`SELECT ` + backupColumns + ` FROM backups ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list all backups: %w", err)
	}
	defer rows.Close()
	return collectBackups(rows)
}
