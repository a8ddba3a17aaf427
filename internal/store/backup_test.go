package store

import (
	"testing"
	"time"

	"github.com/nightrift/nightrift/internal/database"
	"github.com/nightrift/nightrift/internal/model"
)

func setupBackupTestDB(t *testing.T) *BackupStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBackupStore(db)
}

func TestBackupCreate(t *testing.T) {
	bs := setupBackupTestDB(t)

	b, err := bs.Create(model.BackupTypeAuto)
	if err != nil {
		t.Fatalf("create backup: %v", err)
	}
	if b.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if b.Type != model.BackupTypeAuto {
		t.Errorf("type = %q, want %q", b.Type, model.BackupTypeAuto)
	}
	if b.Status != model.BackupStatusInProgress {
		t.Errorf("status = %q, want %q", b.Status, model.BackupStatusInProgress)
	}
}

func TestBackupMarkSuccess(t *testing.T) {
	bs := setupBackupTestDB(t)

	b, _ := bs.Create(model.BackupTypeManual)
	if err := bs.MarkSuccess(b.ID, "backup-20260101-030000.tar.gz", 4096, 2500*time.Millisecond); err != nil {
		t.Fatalf("mark success: %v", err)
	}

	got, _ := bs.GetByID(b.ID)
	if got.Status != model.BackupStatusSuccess {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusSuccess)
	}
	if got.ArtifactPath != "backup-20260101-030000.tar.gz" {
		t.Errorf("artifact_path = %q", got.ArtifactPath)
	}
	if got.SizeBytes != 4096 {
		t.Errorf("size_bytes = %d, want 4096", got.SizeBytes)
	}
	if got.DurationSeconds != 2.5 {
		t.Errorf("duration_seconds = %v, want 2.5", got.DurationSeconds)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
}

func TestBackupMarkFailed(t *testing.T) {
	bs := setupBackupTestDB(t)

	b, _ := bs.Create(model.BackupTypeAuto)
	if err := bs.MarkFailed(b.ID, "disk full", time.Second); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, _ := bs.GetByID(b.ID)
	if got.Status != model.BackupStatusFailed {
		t.Errorf("status = %q, want %q", got.Status, model.BackupStatusFailed)
	}
	if got.ErrorMessage != "disk full" {
		t.Errorf("error_message = %q, want %q", got.ErrorMessage, "disk full")
	}
}

// Terminal states must never be exited: a second transition is rejected.
func TestBackupStatusMonotonic(t *testing.T) {
	bs := setupBackupTestDB(t)

	b, _ := bs.Create(model.BackupTypeAuto)
	if err := bs.MarkSuccess(b.ID, "a.tar.gz", 1, time.Second); err != nil {
		t.Fatalf("mark success: %v", err)
	}

	if err := bs.MarkFailed(b.ID, "late failure", time.Second); err == nil {
		t.Fatal("expected error transitioning out of a terminal state")
	}
	if err := bs.MarkSuccess(b.ID, "b.tar.gz", 2, time.Second); err == nil {
		t.Fatal("expected error re-marking a terminal record")
	}

	got, _ := bs.GetByID(b.ID)
	if got.Status != model.BackupStatusSuccess || got.ArtifactPath != "a.tar.gz" {
		t.Errorf("terminal record mutated: status=%q artifact=%q", got.Status, got.ArtifactPath)
	}
}

func TestBackupListNewestFirst(t *testing.T) {
	bs := setupBackupTestDB(t)

	first, _ := bs.Create(model.BackupTypeAuto)
	second, _ := bs.Create(model.BackupTypeManual)

	backups, err := bs.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("len = %d, want 2", len(backups))
	}
	if backups[0].ID != second.ID || backups[1].ID != first.ID {
		t.Errorf("order = [%d, %d], want [%d, %d]", backups[0].ID, backups[1].ID, second.ID, first.ID)
	}
}

func TestBackupLatestSuccessful(t *testing.T) {
	bs := setupBackupTestDB(t)

	latest, err := bs.LatestSuccessful(model.BackupTypeAuto)
	if err != nil {
		t.Fatalf("latest successful: %v", err)
	}
	if latest != nil {
		t.Fatal("expected nil with empty ledger")
	}

	a, _ := bs.Create(model.BackupTypeAuto)
	bs.MarkSuccess(a.ID, "a.tar.gz", 1, time.Second)
	m, _ := bs.Create(model.BackupTypeManual)
	bs.MarkSuccess(m.ID, "m.tar.gz", 1, time.Second)
	f, _ := bs.Create(model.BackupTypeAuto)
	bs.MarkFailed(f.ID, "boom", time.Second)

	latest, err = bs.LatestSuccessful(model.BackupTypeAuto)
	if err != nil {
		t.Fatalf("latest successful: %v", err)
	}
	if latest == nil || latest.ID != a.ID {
		t.Fatalf("latest = %+v, want id %d", latest, a.ID)
	}
}

func TestBackupHasInProgress(t *testing.T) {
	bs := setupBackupTestDB(t)

	cutoff := time.Now().UTC().Add(-time.Hour)
	got, err := bs.HasInProgress(cutoff)
	if err != nil {
		t.Fatalf("has in progress: %v", err)
	}
	if got {
		t.Error("expected false with empty ledger")
	}

	b, _ := bs.Create(model.BackupTypeAuto)
	if got, _ := bs.HasInProgress(cutoff); !got {
		t.Error("expected true with a fresh in_progress row")
	}

	// Backdate the row past the staleness cutoff; it no longer counts.
	if _, err := bs.db.Exec(`UPDATE backups SET created_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-2*time.Hour), b.ID); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if got, _ := bs.HasInProgress(cutoff); got {
		t.Error("expected stale in_progress row to be ignored")
	}
}

func TestBackupDelete(t *testing.T) {
	bs := setupBackupTestDB(t)

	b, _ := bs.Create(model.BackupTypeManual)
	if err := bs.Delete(b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := bs.GetByID(b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected record to be gone")
	}
}
