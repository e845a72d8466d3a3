// Package ratelimit implements fixed-window request quota tracking for
// upstream data providers. The tracker is a pure decision function: it
// never performs network calls and never blocks - callers act on the
// returned decision.
package ratelimit

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DecisionKind is the outcome of a quota check.
type DecisionKind int

const (
	// Allow - the call may proceed immediately.
	Allow DecisionKind = iota
	// Delay - the call may proceed after waiting Decision.Wait.
	Delay
	// Reject - the window quota is exhausted; no call may be made.
	Reject
)

// Decision is the result of Tracker.Allow.
type Decision struct {
	Kind DecisionKind
	Wait time.Duration // only set for Delay
}

// Quota declares the limits for one provider. A zero Limit means unlimited.
type Quota struct {
	Limit      int           // max calls per Period
	Period     time.Duration // quota window length
	DailyCap   int           // optional additional per-day cap (0 = none)
	MinSpacing time.Duration // minimum gap between consecutive calls
}

// ProviderStatus is a point-in-time view of one provider's quota state,
// exposed on the rate-limit status endpoint.
type ProviderStatus struct {
	Current        int     `json:"current"`
	Limit          int     `json:"limit"`
	ResetInSeconds int     `json:"reset_in_seconds"`
	DailyUsed      int     `json:"daily_used,omitempty"`
	DailyCap       int     `json:"daily_cap,omitempty"`
	Rejected       int64   `json:"rejected"`
	Successes      int64   `json:"successes"`
	Failures       int64   `json:"failures"`
	UsageFraction  float64 `json:"usage_fraction"`
}

// providerState holds the mutable counters for one provider. Each provider
// has its own mutex so a delayed or contended provider never blocks
// decisions for the others.
type providerState struct {
	mu    sync.Mutex
	quota Quota

	count       int
	windowStart time.Time
	dayCount    int
	dayStart    time.Time
	nextSlot    time.Time // earliest start time honoring MinSpacing

	rejected  int64
	successes int64
	failures  int64
}

// Tracker owns the quota state for all configured providers. One instance
// per process; inject it rather than sharing globals so it stays testable
// in isolation.
type Tracker struct {
	mu        sync.Mutex
	providers map[string]*providerState
	quotas    map[string]Quota
	now       func() time.Time
	log       zerolog.Logger
}

// NewTracker creates a tracker from static quota configuration.
func NewTracker(quotas map[string]Quota, log zerolog.Logger) *Tracker {
	return &Tracker{
		providers: make(map[string]*providerState),
		quotas:    quotas,
		now:       time.Now,
		log:       log.With().Str("component", "ratelimit").Logger(),
	}
}

// state returns the per-provider state, creating it on first use.
// Unconfigured providers are treated as unlimited rather than erroring,
// so a future provider missing configuration degrades loudly but softly.
func (t *Tracker) state(provider string) *providerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.providers[provider]; ok {
		return s
	}

	quota, ok := t.quotas[provider]
	if !ok {
		t.log.Warn().
			Str("provider", provider).
			Msg("No quota configured for provider, treating as unlimited")
	}

	now := t.now()
	s := &providerState{
		quota:       quota,
		windowStart: now,
		dayStart:    now,
	}
	t.providers[provider] = s
	return s
}

// rollWindows resets lapsed windows. The interval is half-open
// [windowStart, windowStart+period): a call arriving exactly at the
// boundary sees the fresh window. Caller must hold s.mu.
func (s *providerState) rollWindows(now time.Time) {
	if s.quota.Period > 0 && !now.Before(s.windowStart.Add(s.quota.Period)) {
		s.count = 0
		s.windowStart = now
	}
	if !now.Before(s.dayStart.Add(24 * time.Hour)) {
		s.dayCount = 0
		s.dayStart = now
	}
}

// Allow decides whether a call to the provider may proceed. On Allow and
// Delay the call is counted against the window immediately, so concurrent
// callers cannot both observe "one under limit" and overshoot the quota.
func (t *Tracker) Allow(provider string) Decision {
	s := t.state(provider)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	s.rollWindows(now)

	if s.quota.Limit > 0 && s.count >= s.quota.Limit {
		s.rejected++
		return Decision{Kind: Reject}
	}
	if s.quota.DailyCap > 0 && s.dayCount >= s.quota.DailyCap {
		s.rejected++
		return Decision{Kind: Reject}
	}

	s.count++
	s.dayCount++

	// Minimum inter-request spacing smooths bursts inside an otherwise
	// compliant window. Each granted call claims the next slot.
	if s.quota.MinSpacing > 0 {
		slot := s.nextSlot
		if slot.Before(now) {
			slot = now
		}
		s.nextSlot = slot.Add(s.quota.MinSpacing)
		if wait := slot.Sub(now); wait > 0 {
			return Decision{Kind: Delay, Wait: wait}
		}
	}

	return Decision{Kind: Allow}
}

// Record reports the outcome of a call previously granted by Allow.
func (t *Tracker) Record(provider string, success bool) {
	s := t.state(provider)

	s.mu.Lock()
	defer s.mu.Unlock()

	if success {
		s.successes++
	} else {
		s.failures++
	}
}

// Status returns the current quota state for every provider seen so far.
func (t *Tracker) Status() map[string]ProviderStatus {
	t.mu.Lock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make(map[string]ProviderStatus, len(names))
	for _, name := range names {
		out[name] = t.providerStatus(name)
	}
	return out
}

// providerStatus builds the status view for one provider.
func (t *Tracker) providerStatus(provider string) ProviderStatus {
	s := t.state(provider)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := t.now()
	s.rollWindows(now)

	status := ProviderStatus{
		Current:   s.count,
		Limit:     s.quota.Limit,
		DailyUsed: s.dayCount,
		DailyCap:  s.quota.DailyCap,
		Rejected:  s.rejected,
		Successes: s.successes,
		Failures:  s.failures,
	}
	if s.quota.Limit > 0 {
		status.ResetInSeconds = int(s.windowStart.Add(s.quota.Period).Sub(now).Seconds())
		status.UsageFraction = float64(s.count) / float64(s.quota.Limit)
	}
	return status
}

// QuotaPressure returns the worst usage fraction across all limited
// providers, in [0, 1]. Used by the health scorer.
func (t *Tracker) QuotaPressure() float64 {
	var worst float64
	for _, status := range t.Status() {
		if status.UsageFraction > worst {
			worst = status.UsageFraction
		}
	}
	if worst > 1 {
		worst = 1
	}
	return worst
}
