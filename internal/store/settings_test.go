package store

import (
	"testing"

	"github.com/nightrift/nightrift/internal/database"
)

func setupSettingsTestDB(t *testing.T) *SettingsStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSettingsStore(db)
}

func TestSettingsSetAndGet(t *testing.T) {
	ss := setupSettingsTestDB(t)

	if err := ss.Set("backup_frequency", "weekly"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := ss.Get("backup_frequency")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "weekly" {
		t.Errorf("value = %q, want %q", got, "weekly")
	}
}

func TestSettingsGetMissing(t *testing.T) {
	ss := setupSettingsTestDB(t)

	if _, err := ss.Get("no_such_key"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestGetBackupSettingsSeededDefaults(t *testing.T) {
	ss := setupSettingsTestDB(t)

	settings, err := ss.GetBackupSettings()
	if err != nil {
		t.Fatalf("get backup settings: %v", err)
	}
	if settings["backup_auto_enabled"] != "false" {
		t.Errorf("backup_auto_enabled = %q, want %q", settings["backup_auto_enabled"], "false")
	}
	if settings["backup_keep_count"] != "5" {
		t.Errorf("backup_keep_count = %q, want %q", settings["backup_keep_count"], "5")
	}
	if settings["backup_storage_type"] != "local" {
		t.Errorf("backup_storage_type = %q, want %q", settings["backup_storage_type"], "local")
	}
}
