package health

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultEmergencyDuration is applied when an activation request does not
// carry an explicit duration.
const DefaultEmergencyDuration = 2 * time.Hour

// EmergencyStatus is the externally visible state of emergency mode.
type EmergencyStatus struct {
	Active           bool      `json:"active"`
	Reason           string    `json:"reason,omitempty"`
	ActivatedAt      time.Time `json:"activated_at,omitempty"`
	ExpiresAt        time.Time `json:"expires_at,omitempty"`
	RemainingSeconds int       `json:"remaining_seconds"`
}

// EmergencyMode is a manual operational switch that shrinks background
// refresh work down to the core currency pairs. It is toggled by an
// operator, never by the scorer, and expires on its own after the
// configured duration so a forgotten toggle cannot starve the dashboard
// indefinitely.
type EmergencyMode struct {
	mu          sync.Mutex
	active      bool
	reason      string
	activatedAt time.Time
	expiresAt   time.Time

	now      func() time.Time
	log      zerolog.Logger
	onChange func(active bool, reason string)
}

// NewEmergencyMode creates the emergency mode switch, inactive.
func NewEmergencyMode(log zerolog.Logger) *EmergencyMode {
	return &EmergencyMode{
		now: time.Now,
		log: log.With().Str("component", "emergency_mode").Logger(),
	}
}

// OnChange registers a callback invoked whenever the mode flips. Must be
// called before the mode is shared across goroutines.
func (e *EmergencyMode) OnChange(fn func(active bool, reason string)) {
	e.onChange = fn
}

// Activate turns emergency mode on for the given duration. A zero duration
// selects DefaultEmergencyDuration. Re-activating while active extends the
// expiry from now.
func (e *EmergencyMode) Activate(reason string, d time.Duration) EmergencyStatus {
	if d <= 0 {
		d = DefaultEmergencyDuration
	}

	e.mu.Lock()
	now := e.now()
	wasActive := e.active
	e.active = true
	e.reason = reason
	e.activatedAt = now
	e.expiresAt = now.Add(d)
	status := e.statusLocked(now)
	e.mu.Unlock()

	e.log.Warn().
		Str("reason", reason).
		Dur("duration", d).
		Msg("Emergency mode activated")

	if !wasActive && e.onChange != nil {
		e.onChange(true, reason)
	}
	return status
}

// Reset turns emergency mode off immediately.
func (e *EmergencyMode) Reset() EmergencyStatus {
	e.mu.Lock()
	wasActive := e.active
	e.active = false
	e.reason = ""
	status := e.statusLocked(e.now())
	e.mu.Unlock()

	if wasActive {
		e.log.Info().Msg("Emergency mode reset")
		if e.onChange != nil {
			e.onChange(false, "")
		}
	}
	return status
}

// Active reports whether emergency mode is currently in effect, honoring
// the timed expiry.
func (e *EmergencyMode) Active() bool {
	return e.Status().Active
}

// Status returns the current state. Expiry is evaluated lazily: the first
// check past the deadline flips the mode off.
func (e *EmergencyMode) Status() EmergencyStatus {
	e.mu.Lock()
	now := e.now()
	expired := e.active && !now.Before(e.expiresAt)
	if expired {
		e.active = false
		e.reason = ""
	}
	status := e.statusLocked(now)
	e.mu.Unlock()

	if expired {
		e.log.Info().Msg("Emergency mode expired")
		if e.onChange != nil {
			e.onChange(false, "")
		}
	}
	return status
}

// statusLocked builds the status view. Caller must hold e.mu.
func (e *EmergencyMode) statusLocked(now time.Time) EmergencyStatus {
	if !e.active {
		return EmergencyStatus{}
	}
	remaining := int(e.expiresAt.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return EmergencyStatus{
		Active:           true,
		Reason:           e.reason,
		ActivatedAt:      e.activatedAt,
		ExpiresAt:        e.expiresAt,
		RemainingSeconds: remaining,
	}
}
