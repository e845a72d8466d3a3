// Package health aggregates quota state and request outcome history into
// a system health score with advisory recommendations. The scorer only
// reads quota state - it never feeds back into the rate limiter or the
// orchestrator.
package health

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/fxlens/fxlens/internal/ratelimit"
)

// maxOutcomes bounds the rolling outcome window. Oldest entries drop first.
const maxOutcomes = 512

// Outcome is an ephemeral record of one attempted provider call.
type Outcome struct {
	ID        string        `json:"id"`
	Provider  string        `json:"provider"`
	Success   bool          `json:"success"`
	Latency   time.Duration `json:"latency"`
	Timestamp time.Time     `json:"timestamp"`
	ErrorKind string        `json:"error_kind,omitempty"`
}

// Weights tunes the score composition. The score is monotonically
// non-increasing in error rate and quota pressure for non-negative weights.
type Weights struct {
	Quota            float64
	Error            float64
	Latency          float64
	LatencyThreshold time.Duration
}

// DefaultWeights are used when no configuration is supplied.
func DefaultWeights() Weights {
	return Weights{
		Quota:            1.0,
		Error:            1.0,
		Latency:          0.5,
		LatencyThreshold: 2 * time.Second,
	}
}

// Snapshot is the derived health view, computed on demand.
type Snapshot struct {
	HealthScore     float64          `json:"health_score"` // 0-100
	Status          string           `json:"status"`       // healthy, warning, critical
	UptimeSeconds   float64          `json:"uptime_seconds"`
	TotalRequests   int64            `json:"total_requests"`
	ErrorRate       float64          `json:"error_rate"` // 0-1 over the rolling window
	AvgResponseMS   float64          `json:"avg_response_time_ms"`
	QuotaPressure   float64          `json:"quota_pressure"` // 0-1, worst provider
	Recommendations []Recommendation `json:"recommendations"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// Scorer keeps the rolling outcome window and derives health snapshots.
type Scorer struct {
	mu       sync.RWMutex
	outcomes []Outcome
	total    int64

	tracker *ratelimit.Tracker
	weights Weights
	start   time.Time
	now     func() time.Time
	log     zerolog.Logger
}

// NewScorer creates a health scorer reading from the given quota tracker.
func NewScorer(tracker *ratelimit.Tracker, weights Weights, log zerolog.Logger) *Scorer {
	return &Scorer{
		tracker: tracker,
		weights: weights,
		start:   time.Now(),
		now:     time.Now,
		log:     log.With().Str("component", "health").Logger(),
	}
}

// Append records the outcome of one attempted provider call.
func (s *Scorer) Append(provider string, success bool, latency time.Duration, errorKind string) {
	outcome := Outcome{
		ID:        uuid.NewString(),
		Provider:  provider,
		Success:   success,
		Latency:   latency,
		Timestamp: s.now(),
		ErrorKind: errorKind,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.outcomes = append(s.outcomes, outcome)
	if len(s.outcomes) > maxOutcomes {
		s.outcomes = s.outcomes[len(s.outcomes)-maxOutcomes:]
	}
}

// windowStats returns error rate and mean latency over the rolling window.
// Caller must hold at least a read lock.
func (s *Scorer) windowStats() (errorRate, avgLatencyMS float64) {
	if len(s.outcomes) == 0 {
		return 0, 0
	}

	latencies := make([]float64, 0, len(s.outcomes))
	failures := 0
	for _, o := range s.outcomes {
		latencies = append(latencies, float64(o.Latency.Milliseconds()))
		if !o.Success {
			failures++
		}
	}

	return float64(failures) / float64(len(s.outcomes)), stat.Mean(latencies, nil)
}

// ProviderErrorRate returns the failure fraction for one provider over the
// rolling window. Returns 0 when the provider has no recorded outcomes.
func (s *Scorer) ProviderErrorRate(provider string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, failures := 0, 0
	for _, o := range s.outcomes {
		if o.Provider != provider {
			continue
		}
		total++
		if !o.Success {
			failures++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failures) / float64(total)
}

// RecentOutcomes returns up to n most recent outcomes, newest last.
func (s *Scorer) RecentOutcomes(n int) []Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > len(s.outcomes) {
		n = len(s.outcomes)
	}
	out := make([]Outcome, n)
	copy(out, s.outcomes[len(s.outcomes)-n:])
	return out
}

// Snapshot computes the current health view. Pure read; safe to call on
// demand or on a push interval.
func (s *Scorer) Snapshot() Snapshot {
	s.mu.RLock()
	errorRate, avgLatencyMS := s.windowStats()
	total := s.total
	s.mu.RUnlock()

	pressure := s.tracker.QuotaPressure()

	// Start from 100 and deduct for quota pressure above 50%, failures,
	// and latency above the acceptable threshold. Deductions scale with
	// the configured weights and the score is clamped to [0, 100].
	score := 100.0
	if pressure > 0.5 {
		score -= s.weights.Quota * (pressure - 0.5) * 100
	}
	score -= s.weights.Error * errorRate * 100

	thresholdMS := float64(s.weights.LatencyThreshold.Milliseconds())
	if thresholdMS > 0 && avgLatencyMS > thresholdMS {
		penalty := (avgLatencyMS - thresholdMS) / thresholdMS * 20
		if penalty > 20 {
			penalty = 20
		}
		score -= s.weights.Latency * penalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	status := "healthy"
	switch {
	case score < 60:
		status = "critical"
	case score < 80:
		status = "warning"
	}

	now := s.now()
	return Snapshot{
		HealthScore:     score,
		Status:          status,
		UptimeSeconds:   now.Sub(s.start).Seconds(),
		TotalRequests:   total,
		ErrorRate:       errorRate,
		AvgResponseMS:   avgLatencyMS,
		QuotaPressure:   pressure,
		Recommendations: s.recommendations(score, errorRate, avgLatencyMS, pressure),
		GeneratedAt:     now,
	}
}
