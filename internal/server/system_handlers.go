package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/ratelimit"
	"github.com/fxlens/fxlens/internal/reliability"
)

// SystemHandlers serves the monitoring and operations endpoints.
type SystemHandlers struct {
	scorer      *health.Scorer
	tracker     *ratelimit.Tracker
	emergency   *health.EmergencyMode
	backup      *reliability.BackupService
	startupTime time.Time
	log         zerolog.Logger
}

// NewSystemHandlers creates the system handlers.
func NewSystemHandlers(scorer *health.Scorer, tracker *ratelimit.Tracker, emergency *health.EmergencyMode, backup *reliability.BackupService, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		scorer:      scorer,
		tracker:     tracker,
		emergency:   emergency,
		backup:      backup,
		startupTime: time.Now(),
		log:         log.With().Str("component", "system_handlers").Logger(),
	}
}

// HandleLiveness handles GET /health. Process liveness only; the detailed
// view lives at /api/system/health.
func (h *SystemHandlers) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(h.startupTime).Seconds(),
	})
}

// HandleHealth handles GET /api/system/health.
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.scorer.Snapshot()

	system := map[string]any{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		system["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["memory_percent"] = vm.UsedPercent
		system["memory_used_mb"] = vm.Used / 1024 / 1024
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"health":    snapshot,
		"system":    system,
		"emergency": h.emergency.Status(),
	})
}

// HandleRateLimits handles GET /api/system/rate-limits.
func (h *SystemHandlers) HandleRateLimits(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"providers": h.tracker.Status(),
	})
}

// HandleEmergencyStatus handles GET /api/system/emergency.
func (h *SystemHandlers) HandleEmergencyStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.emergency.Status())
}

// HandleEmergencyActivate handles POST /api/system/emergency.
func (h *SystemHandlers) HandleEmergencyActivate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason          string `json:"reason"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Reason == "" {
		respondError(w, http.StatusBadRequest, "reason is required")
		return
	}

	status := h.emergency.Activate(body.Reason, time.Duration(body.DurationMinutes)*time.Minute)
	respondJSON(w, http.StatusOK, status)
}

// HandleEmergencyReset handles POST /api/system/emergency/reset.
func (h *SystemHandlers) HandleEmergencyReset(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.emergency.Reset())
}

// HandleListBackups handles GET /api/system/backups.
func (h *SystemHandlers) HandleListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backup == nil {
		respondError(w, http.StatusNotImplemented, "backup is not configured")
		return
	}

	backups, err := h.backup.ListBackups(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list backups")
		respondError(w, http.StatusBadGateway, "failed to list backups")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"backups": backups})
}

// HandleTriggerBackup handles POST /api/system/backups.
func (h *SystemHandlers) HandleTriggerBackup(w http.ResponseWriter, r *http.Request) {
	if h.backup == nil {
		respondError(w, http.StatusNotImplemented, "backup is not configured")
		return
	}

	info, err := h.backup.CreateAndUploadBackup(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Manual backup failed")
		respondError(w, http.StatusBadGateway, "backup failed")
		return
	}
	respondJSON(w, http.StatusOK, info)
}
