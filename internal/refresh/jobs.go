package refresh

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/analysis"
	"github.com/fxlens/fxlens/internal/events"
	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/providers"
	"github.com/fxlens/fxlens/internal/ratelimit"
	"github.com/fxlens/fxlens/internal/resolve"
)

// jobTimeout bounds one whole refresh cycle, not individual calls.
const jobTimeout = 2 * time.Minute

// pairSelection picks the working set: the full pair list normally, the
// core pairs while emergency mode is active.
type pairSelection struct {
	pairs     []string
	corePairs []string
	emergency *health.EmergencyMode
}

func (p pairSelection) current() (pairs []string, emergency bool) {
	if p.emergency != nil && p.emergency.Active() {
		return p.corePairs, true
	}
	return p.pairs, false
}

// PriceRefreshJob refreshes spot rates for the working set and emits a
// PriceUpdated event per pair.
type PriceRefreshJob struct {
	orch      *resolve.Orchestrator
	bus       *events.Bus
	selection pairSelection
	log       zerolog.Logger
}

// NewPriceRefreshJob creates the periodic price refresh job.
func NewPriceRefreshJob(orch *resolve.Orchestrator, bus *events.Bus, pairs, corePairs []string, emergency *health.EmergencyMode, log zerolog.Logger) *PriceRefreshJob {
	return &PriceRefreshJob{
		orch:      orch,
		bus:       bus,
		selection: pairSelection{pairs: pairs, corePairs: corePairs, emergency: emergency},
		log:       log.With().Str("job", "price_refresh").Logger(),
	}
}

// Name implements Job.
func (j *PriceRefreshJob) Name() string { return "price_refresh" }

// Run implements Job.
func (j *PriceRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	pairs, emergency := j.selection.current()
	start := time.Now()
	failures := 0

	for _, pair := range pairs {
		result, err := j.orch.Resolve(ctx, providers.Request{Symbol: pair, Kind: market.KindPrice})
		if err != nil {
			failures++
			j.log.Warn().Err(err).Str("pair", pair).Msg("Price refresh failed for pair")
			continue
		}

		if price, ok := result.Payload.(*market.PriceSnapshot); ok {
			j.bus.Emit(events.PriceUpdated, "refresh", events.PriceUpdatedData{
				Pair:   price.Pair,
				Price:  price.Price,
				Source: result.Provider,
				Label:  string(result.Label),
			})
		}
	}

	j.bus.Emit(events.RefreshCompleted, "refresh", events.RefreshCompletedData{
		Kind:            string(market.KindPrice),
		Pairs:           len(pairs),
		Errors:          failures,
		DurationSeconds: time.Since(start).Seconds(),
		Emergency:       emergency,
	})

	j.log.Info().
		Int("pairs", len(pairs)).
		Int("failures", failures).
		Bool("emergency", emergency).
		Dur("elapsed", time.Since(start)).
		Msg("Price refresh cycle completed")
	return nil
}

// SignalsRefreshJob recomputes signal bundles for the working set.
type SignalsRefreshJob struct {
	signals   *analysis.Service
	bus       *events.Bus
	timeframe string
	selection pairSelection
	log       zerolog.Logger
}

// NewSignalsRefreshJob creates the periodic signal recompute job.
func NewSignalsRefreshJob(signals *analysis.Service, bus *events.Bus, timeframe string, pairs, corePairs []string, emergency *health.EmergencyMode, log zerolog.Logger) *SignalsRefreshJob {
	return &SignalsRefreshJob{
		signals:   signals,
		bus:       bus,
		timeframe: timeframe,
		selection: pairSelection{pairs: pairs, corePairs: corePairs, emergency: emergency},
		log:       log.With().Str("job", "signals_refresh").Logger(),
	}
}

// Name implements Job.
func (j *SignalsRefreshJob) Name() string { return "signals_refresh" }

// Run implements Job.
func (j *SignalsRefreshJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	pairs, emergency := j.selection.current()
	start := time.Now()
	failures := 0

	for _, pair := range pairs {
		result, err := j.signals.SignalsFor(ctx, pair, j.timeframe)
		if err != nil {
			failures++
			j.log.Warn().Err(err).Str("pair", pair).Msg("Signal refresh failed for pair")
			continue
		}

		if bundle, ok := result.Payload.(*market.SignalBundle); ok {
			j.bus.Emit(events.SignalsUpdated, "refresh", events.SignalsUpdatedData{
				Pair:   bundle.Pair,
				Action: string(bundle.Action),
				Score:  bundle.TechnicalScore,
			})
		}
	}

	j.bus.Emit(events.RefreshCompleted, "refresh", events.RefreshCompletedData{
		Kind:            string(market.KindSignals),
		Pairs:           len(pairs),
		Errors:          failures,
		DurationSeconds: time.Since(start).Seconds(),
		Emergency:       emergency,
	})

	j.log.Info().
		Int("pairs", len(pairs)).
		Int("failures", failures).
		Bool("emergency", emergency).
		Msg("Signal refresh cycle completed")
	return nil
}

// quotaWarningThreshold is the usage fraction past which a provider is
// called out by name over the event bus.
const quotaWarningThreshold = 0.9

// HealthPushJob snapshots system health and publishes it, emitting quota
// warnings for providers past the high-water mark.
type HealthPushJob struct {
	scorer     *health.Scorer
	tracker    *ratelimit.Tracker
	bus        *events.Bus
	lastStatus string
	log        zerolog.Logger
}

// NewHealthPushJob creates the periodic health push job.
func NewHealthPushJob(scorer *health.Scorer, tracker *ratelimit.Tracker, bus *events.Bus, log zerolog.Logger) *HealthPushJob {
	return &HealthPushJob{
		scorer:  scorer,
		tracker: tracker,
		bus:     bus,
		log:     log.With().Str("job", "health_push").Logger(),
	}
}

// Name implements Job.
func (j *HealthPushJob) Name() string { return "health_push" }

// Run implements Job.
func (j *HealthPushJob) Run() error {
	snap := j.scorer.Snapshot()

	if snap.Status != j.lastStatus {
		j.bus.Emit(events.HealthChanged, "health", events.HealthChangedData{
			Score:  snap.HealthScore,
			Status: snap.Status,
		})
		j.lastStatus = snap.Status
	}

	for name, status := range j.tracker.Status() {
		if status.Limit <= 0 || status.UsageFraction < quotaWarningThreshold {
			continue
		}
		j.bus.Emit(events.QuotaWarning, "health", events.QuotaWarningData{
			Provider:      name,
			UsageFraction: status.UsageFraction,
		})
		j.log.Warn().
			Str("provider", name).
			Float64("usage", status.UsageFraction).
			Msg("Provider near quota limit")
	}
	return nil
}
