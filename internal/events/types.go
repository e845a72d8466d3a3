// Package events provides the in-process event bus connecting the data
// layer to the push transports (SSE and WebSocket streams).
package events

import "time"

// EventType identifies an event category.
type EventType string

// Event types emitted across the system.
const (
	// PriceUpdated - a pair's spot rate was refreshed.
	PriceUpdated EventType = "price_updated"
	// SignalsUpdated - a pair's signal bundle was recomputed.
	SignalsUpdated EventType = "signals_updated"
	// HealthChanged - the health status crossed a threshold.
	HealthChanged EventType = "health_changed"
	// QuotaWarning - a provider crossed the quota high-water mark.
	QuotaWarning EventType = "quota_warning"
	// EmergencyModeChanged - the emergency mode switch flipped.
	EmergencyModeChanged EventType = "emergency_mode_changed"
	// RefreshCompleted - a background refresh cycle finished.
	RefreshCompleted EventType = "refresh_completed"
	// BackupCompleted - a cache backup was uploaded.
	BackupCompleted EventType = "backup_completed"
)

// Event is one occurrence on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Module    string    `json:"module"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// PriceUpdatedData is the payload of PriceUpdated events.
type PriceUpdatedData struct {
	Pair   string  `json:"pair"`
	Price  float64 `json:"price"`
	Source string  `json:"source"`
	Label  string  `json:"label"`
}

// SignalsUpdatedData is the payload of SignalsUpdated events.
type SignalsUpdatedData struct {
	Pair   string  `json:"pair"`
	Action string  `json:"action"`
	Score  float64 `json:"score"`
}

// HealthChangedData is the payload of HealthChanged events.
type HealthChangedData struct {
	Score  float64 `json:"score"`
	Status string  `json:"status"`
}

// QuotaWarningData is the payload of QuotaWarning events.
type QuotaWarningData struct {
	Provider      string  `json:"provider"`
	UsageFraction float64 `json:"usage_fraction"`
}

// EmergencyModeChangedData is the payload of EmergencyModeChanged events.
type EmergencyModeChangedData struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

// RefreshCompletedData is the payload of RefreshCompleted events.
type RefreshCompletedData struct {
	Kind            string  `json:"kind"`
	Pairs           int     `json:"pairs"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
	Emergency       bool    `json:"emergency"`
}

// BackupCompletedData is the payload of BackupCompleted events.
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
}
