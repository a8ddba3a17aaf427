package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/nightrift/nightrift/internal/model"
	"github.com/nightrift/nightrift/internal/store"
)

var timeFormatRegexp = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

type SettingsHandler struct {
	settingsStore *store.SettingsStore
}

func NewSettingsHandler(ss *store.SettingsStore) *SettingsHandler {
	return &SettingsHandler{settingsStore: ss}
}

// GetBackup returns the effective backup configuration with the storage
// credential blob redacted.
func (h *SettingsHandler) GetBackup(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsStore.GetBackupSettings()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to get settings"})
		return
	}
	cfg := model.BackupConfigFromSettings(settings)
	cfg.StorageConfig = ""
	writeJSON(w, http.StatusOK, cfg)
}

func (h *SettingsHandler) UpdateBackup(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := validateBackupSettings(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	for key, value := range req {
		if err := h.settingsStore.Set(key, value); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save settings"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func validateBackupSettings(settings map[string]string) error {
	allowedKeys := map[string]bool{
		"backup_auto_enabled":     true,
		"backup_frequency":        true,
		"backup_time":             true,
		"backup_keep_count":       true,
		"backup_include_database": true,
		"backup_include_uploads":  true,
		"backup_storage_type":     true,
		"backup_storage_config":   true,
		"backup_email_notify":     true,
		"backup_notify_email":     true,
		"backup_webhook_url":      true,
	}

	for key, value := range settings {
		if !allowedKeys[key] {
			return fmt.Errorf("unknown setting: %s", key)
		}

		switch key {
		case "backup_auto_enabled", "backup_include_database", "backup_include_uploads", "backup_email_notify":
			if value != "true" && value != "false" {
				return fmt.Errorf("%s must be \"true\" or \"false\"", key)
			}
		case "backup_frequency":
			switch model.BackupFrequency(value) {
			case model.FrequencyDaily, model.FrequencyWeekly, model.FrequencyMonthly:
			default:
				return fmt.Errorf("backup_frequency must be daily, weekly, or monthly")
			}
		case "backup_time":
			if !timeFormatRegexp.MatchString(value) {
				return fmt.Errorf("backup_time must be HH:MM format")
			}
		case "backup_keep_count":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > 100 {
				return fmt.Errorf("backup_keep_count must be 1-100")
			}
		case "backup_storage_type":
			if model.StorageType(value) != model.StorageLocal && model.StorageType(value) != model.StorageS3 {
				return fmt.Errorf("backup_storage_type must be local or s3")
			}
		case "backup_storage_config":
			if strings.TrimSpace(value) != "" && !json.Valid([]byte(value)) {
				return fmt.Errorf("backup_storage_config must be valid JSON")
			}
		case "backup_notify_email":
			if value != "" && !strings.Contains(value, "@") {
				return fmt.Errorf("backup_notify_email must be an email address")
			}
		case "backup_webhook_url":
			if value != "" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
				return fmt.Errorf("backup_webhook_url must be an http(s) URL")
			}
		}
	}
	return nil
}
