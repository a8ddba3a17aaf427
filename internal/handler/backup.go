package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/nightrift/nightrift/internal/backup"
	"github.com/nightrift/nightrift/internal/model"
	"github.com/nightrift/nightrift/internal/store"
)

const historyLimit = 50

type BackupHandler struct {
	manager *backup.Manager
	ledger  *store.BackupStore
	logger  *slog.Logger
}

func NewBackupHandler(manager *backup.Manager, ledger *store.BackupStore, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{manager: manager, ledger: ledger, logger: logger}
}

// Cron handles the external scheduler's poll. Skips are normal outcomes, not
// errors; only a backup that actually ran and failed produces a 500.
func (h *BackupHandler) Cron(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.RunIfDue(r.Context())
	if errors.Is(err, backup.ErrOperationInProgress) {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "skipped: " + err.Error(),
		})
		return
	}
	if err != nil {
		h.logger.Error("cron backup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if result.Skipped {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "skipped: " + result.Reason,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"backup":  runSummary(result.Run),
	})
}

// RunNow triggers a manual backup, bypassing the due check.
func (h *BackupHandler) RunNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.Run(r.Context(), model.BackupTypeManual)
	if errors.Is(err, backup.ErrOperationInProgress) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("manual backup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"backup":  runSummary(result),
	})
}

func runSummary(run *backup.RunResult) map[string]any {
	summary := map[string]any{
		"id":               run.Record.ID,
		"size":             run.Record.SizeBytes,
		"duration":         run.Record.DurationSeconds,
		"uploadedToRemote": run.UploadedToRemote,
	}
	if len(run.CopyErrors) > 0 {
		summary["copyErrors"] = run.CopyErrors
	}
	return summary
}

// historyRow is a ledger row augmented with the read-only reconciliation
// fields: does the artifact actually exist, and where.
type historyRow struct {
	model.Backup
	FileExists  bool   `json:"fileExists"`
	ActualPath  string `json:"actualPath,omitempty"`
	IsDirectory bool   `json:"isDirectory"`
	SizeHuman   string `json:"sizeHuman,omitempty"`
}

func (h *BackupHandler) History(w http.ResponseWriter, r *http.Request) {
	backups, err := h.ledger.List(historyLimit)
	if err != nil {
		h.logger.Error("list history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list backups"})
		return
	}

	rows := make([]historyRow, 0, len(backups))
	for _, b := range backups {
		row := historyRow{Backup: b}
		if res, ok := h.manager.ResolveArtifact(b.ArtifactPath); ok {
			row.FileExists = true
			row.ActualPath = res.Path
			row.IsDirectory = res.IsDir
		}
		if b.SizeBytes > 0 {
			row.SizeHuman = humanize.Bytes(uint64(b.SizeBytes))
		}
		rows = append(rows, row)
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": rows})
}

// DeleteHistory serves both single-row deletion (?id=) and the orphan sweep
// (?cleanOrphans=true).
func (h *BackupHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("cleanOrphans") == "true" {
		deleted, err := h.manager.CleanOrphans()
		if err != nil {
			h.logger.Error("clean orphans", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"deletedCount": deleted,
			"message":      strconv.Itoa(deleted) + " orphaned record(s) removed",
		})
		return
	}

	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id or cleanOrphans=true required"})
		return
	}

	foundPath, fileDeleted, deleteErr, err := h.manager.DeleteRecord(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}

	resp := map[string]any{
		"success":     true,
		"fileDeleted": fileDeleted,
	}
	if foundPath != "" {
		resp["foundPath"] = foundPath
	}
	if deleteErr != nil {
		resp["deleteError"] = deleteErr.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BackupHandler) RestoreList(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.manager.RestoreCandidates()
	if err != nil {
		h.logger.Error("list restore candidates", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list restore candidates"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type restoreRequest struct {
	FilePath           string `json:"filePath"`
	CreateSafetyBackup *bool  `json:"createSafetyBackup"`
}

func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.FilePath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "filePath is required"})
		return
	}

	opts := backup.RestoreOptions{FilePath: req.FilePath, CreateSafetyBackup: true}
	if req.CreateSafetyBackup != nil {
		opts.CreateSafetyBackup = *req.CreateSafetyBackup
	}

	result, err := h.manager.Restore(r.Context(), opts)
	switch {
	case errors.Is(err, backup.ErrArtifactNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, backup.ErrOperationInProgress):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("restore", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "database restored from " + result.RestoredFrom,
		"safetyBackup": result.SafetyBackup,
		"note":         "restart the service to guarantee all connections use the restored database",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
