package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

type BackupFrequency string

const (
	FrequencyDaily   BackupFrequency = "daily"
	FrequencyWeekly  BackupFrequency = "weekly"
	FrequencyMonthly BackupFrequency = "monthly"
)

// MinHours returns the minimum elapsed hours before another automatic backup
// is due. The thresholds sit slightly under the nominal period so an hourly
// cron with jitter still fires once per period.
func (f BackupFrequency) MinHours() float64 {
	switch f {
	case FrequencyWeekly:
		return 144
	case FrequencyMonthly:
		return 672
	default:
		return 20
	}
}

type StorageType string

const (
	StorageLocal StorageType = "local"
	StorageS3    StorageType = "s3"
)

// StorageConfig is the opaque remote-storage target kept as a JSON blob in
// settings so deployments can repoint storage without a restart.
type StorageConfig struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
	Prefix    string `json:"prefix,omitempty"`
}

// Configured reports whether the blob carries enough to build a client.
func (c StorageConfig) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// BackupConfig is the operational configuration of the backup subsystem,
// persisted as settings rows and editable through the admin API.
type BackupConfig struct {
	AutoBackup      bool            `json:"auto_backup"`
	Frequency       BackupFrequency `json:"frequency"`
	BackupTime      string          `json:"backup_time"`
	KeepBackups     int             `json:"keep_backups"`
	BackupDatabase  bool            `json:"backup_database"`
	BackupUploads   bool            `json:"backup_uploads"`
	StorageType     StorageType     `json:"storage_type"`
	StorageConfig   string          `json:"storage_config,omitempty"`
	EmailNotify     bool            `json:"email_notify"`
	NotifyEmail     string          `json:"notify_email,omitempty"`
	WebhookURL      string          `json:"webhook_url,omitempty"`
}

// ParseStorageConfig decodes the opaque storage blob. An empty blob decodes to
// a zero, unconfigured StorageConfig rather than an error.
func (c BackupConfig) ParseStorageConfig() (StorageConfig, error) {
	var sc StorageConfig
	raw := strings.TrimSpace(c.StorageConfig)
	if raw == "" {
		return sc, nil
	}
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		return StorageConfig{}, err
	}
	return sc, nil
}

// BackupConfigFromSettings builds a typed config from raw settings rows,
// applying defaults for missing or malformed values.
func BackupConfigFromSettings(settings map[string]string) BackupConfig {
	cfg := BackupConfig{
		AutoBackup:     settings["backup_auto_enabled"] == "true",
		Frequency:      FrequencyDaily,
		BackupTime:     "03:00",
		KeepBackups:    5,
		BackupDatabase: settings["backup_include_database"] != "false",
		BackupUploads:  settings["backup_include_uploads"] != "false",
		StorageType:    StorageLocal,
		StorageConfig:  settings["backup_storage_config"],
		EmailNotify:    settings["backup_email_notify"] == "true",
		NotifyEmail:    settings["backup_notify_email"],
		WebhookURL:     settings["backup_webhook_url"],
	}

	switch BackupFrequency(settings["backup_frequency"]) {
	case FrequencyWeekly:
		cfg.Frequency = FrequencyWeekly
	case FrequencyMonthly:
		cfg.Frequency = FrequencyMonthly
	}

	if t := settings["backup_time"]; t != "" {
		cfg.BackupTime = t
	}
	if n, err := strconv.Atoi(settings["backup_keep_count"]); err == nil && n > 0 {
		cfg.KeepBackups = n
	}
	if StorageType(settings["backup_storage_type"]) == StorageS3 {
		cfg.StorageType = StorageS3
	}

	return cfg
}
