package backup

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/nightrift/nightrift/internal/archive"
	"github.com/nightrift/nightrift/internal/store"
)

// liveBytes reads the live database file after flushing its WAL, so the bytes
// reflect everything committed so far.
func (e *testEnv) liveBytes(t *testing.T) []byte {
	t.Helper()
	if _, err := e.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	data, err := os.ReadFile(e.cfg.DBPath)
	if err != nil {
		t.Fatalf("read live db: %v", err)
	}
	return data
}

// dirArtifact lays out an uncompressed artifact directory containing the given
// database payload.
func (e *testEnv) dirArtifact(t *testing.T, name string, payload []byte) string {
	t.Helper()
	dir := filepath.Join(e.cfg.BackupsRoot, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir artifact: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, databaseFileName), payload, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	return dir
}

func TestRestoreNotFound(t *testing.T) {
	env := newTestEnv(t)
	before := env.liveBytes(t)

	_, err := env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-nonexistent.tar.gz",
		CreateSafetyBackup: true,
	})
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("err = %v, want ErrArtifactNotFound", err)
	}
	if !bytes.Equal(before, env.liveBytes(t)) {
		t.Error("live database modified by a failed resolve")
	}
}

func TestRestoreFromDirectoryArtifact(t *testing.T) {
	env := newTestEnv(t)
	before := env.liveBytes(t)
	payload := []byte("restored-database-payload")
	env.dirArtifact(t, "backup-dir", payload)

	result, err := env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-dir",
		CreateSafetyBackup: true,
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	after, err := os.ReadFile(env.cfg.DBPath)
	if err != nil {
		t.Fatalf("read live db: %v", err)
	}
	if !bytes.Equal(after, payload) {
		t.Error("live database does not match restored payload")
	}

	if result.SafetyBackup == "" {
		t.Fatal("safety backup path missing from result")
	}
	safety, err := os.ReadFile(result.SafetyBackup)
	if err != nil {
		t.Fatalf("read safety backup: %v", err)
	}
	if !bytes.Equal(safety, before) {
		t.Error("safety backup does not preserve pre-restore bytes")
	}

	// A restore is not a backup event and must leave the ledger alone. The
	// ledger lives in the swapped-out database, so count rows in the safety
	// snapshot instead of the live file.
	if got := env.countRecordsInFile(t, result.SafetyBackup); got != 0 {
		t.Errorf("ledger rows after restore = %d, want 0", got)
	}
}

func TestRestoreFromArchiveWithNestedPayload(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte("nested-archive-payload")

	// Build an archive whose database snapshot sits below a subdirectory, the
	// way older artifact layouts nested their contents.
	stage := t.TempDir()
	nested := filepath.Join(stage, "data", "sub")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nested, databaseFileName), payload, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	if err := os.MkdirAll(env.cfg.BackupsRoot, 0o755); err != nil {
		t.Fatalf("mkdir backups root: %v", err)
	}
	archivePath := filepath.Join(env.cfg.BackupsRoot, "backup-nested"+archive.Ext)
	if _, err := (archive.TarGz{}).Create(stage, archivePath); err != nil {
		t.Fatalf("create archive: %v", err)
	}

	if _, err := env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-nested" + archive.Ext,
		CreateSafetyBackup: true,
	}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	after, err := os.ReadFile(env.cfg.DBPath)
	if err != nil {
		t.Fatalf("read live db: %v", err)
	}
	if !bytes.Equal(after, payload) {
		t.Error("live database does not match nested payload")
	}
}

func TestRestoreRollbackOnSwapFailure(t *testing.T) {
	env := newTestEnv(t)
	before := env.liveBytes(t)

	// Make the payload a directory named like the database file. It passes the
	// existence check and the integrity check degrades to a warning, but the
	// swap copy fails mid-write, forcing the rollback path.
	dir := filepath.Join(env.cfg.BackupsRoot, "backup-broken")
	if err := os.MkdirAll(filepath.Join(dir, databaseFileName), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-broken",
		CreateSafetyBackup: true,
	})
	if err == nil {
		t.Fatal("expected swap failure")
	}

	after, err2 := os.ReadFile(env.cfg.DBPath)
	if err2 != nil {
		t.Fatalf("read live db: %v", err2)
	}
	if !bytes.Equal(after, before) {
		t.Error("live database not rolled back to pre-restore bytes")
	}
}

func TestRestoreDirectoryWithoutPayloadRollsBack(t *testing.T) {
	env := newTestEnv(t)
	before := env.liveBytes(t)
	empty := filepath.Join(env.cfg.BackupsRoot, "backup-empty")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	_, err := env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-empty",
		CreateSafetyBackup: true,
	})
	if err == nil {
		t.Fatal("expected missing payload error")
	}
	if !bytes.Equal(before, env.liveBytes(t)) {
		t.Error("live database modified despite missing payload")
	}
}

func TestRestoreWithoutSafetyBackup(t *testing.T) {
	env := newTestEnv(t)
	payload := []byte("no-safety-payload")
	env.dirArtifact(t, "backup-nosafety", payload)

	result, err := env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-nosafety",
		CreateSafetyBackup: false,
	})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if result.SafetyBackup != "" {
		t.Errorf("safety backup = %q, want none", result.SafetyBackup)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.BackupsRoot, "safety")); !os.IsNotExist(err) {
		t.Error("safety directory created despite being disabled")
	}
}

func TestRestoreInvokesRefreshHook(t *testing.T) {
	env := newTestEnv(t)
	env.dirArtifact(t, "backup-hook", []byte("hook-payload"))

	called := false
	env.m.OnRestore(func() { called = true })

	if _, err := env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-hook",
		CreateSafetyBackup: true,
	}); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !called {
		t.Error("refresh hook not invoked after successful restore")
	}
}

func TestRestoreBlockedByHeldLock(t *testing.T) {
	env := newTestEnv(t)
	env.dirArtifact(t, "backup-locked", []byte("locked-payload"))

	locks := store.NewLockStore(env.db)
	acquired, err := locks.Acquire(store.LockName, "other-operation", StalenessWindow)
	if err != nil || !acquired {
		t.Fatalf("pre-acquire lock: acquired=%v err=%v", acquired, err)
	}

	_, err = env.m.Restore(context.Background(), RestoreOptions{
		FilePath:           "backup-locked",
		CreateSafetyBackup: true,
	})
	if !errors.Is(err, ErrOperationInProgress) {
		t.Fatalf("err = %v, want ErrOperationInProgress", err)
	}
}

// countRecordsInFile opens a database snapshot file read-only and counts its
// ledger rows.
func (e *testEnv) countRecordsInFile(t *testing.T, path string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM backups`).Scan(&n); err != nil {
		t.Fatalf("count snapshot rows: %v", err)
	}
	return n
}
