package store

import (
	"database/sql"
	"fmt"
	"time"
)

var backupKeys = []string{
	"backup_auto_enabled",
	"backup_frequency",
	"backup_time",
	"backup_keep_count",
	"backup_include_database",
	"backup_include_uploads",
	"backup_storage_type",
	"backup_storage_config",
	"backup_email_notify",
	"backup_notify_email",
	"backup_webhook_url",
}

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetBackupSettings returns the raw backup settings rows. Missing keys are
// simply absent from the map; model.BackupConfigFromSettings applies defaults.
func (s *SettingsStore) GetBackupSettings() (map[string]string, error) {
	return s.getByKeys(backupKeys)
}

func (s *SettingsStore) getByKeys(keys []string) (map[string]string, error) {
	settings := make(map[string]string, len(keys))
	for _, key := range keys {
		var value string
		err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get setting %q: %w", key, err)
		}
		settings[key] = value
	}
	return settings, nil
}
