// Package fetch sits between the orchestrator and the provider adapters.
// Every upstream call flows through here so quota accounting, throttling
// delays, in-flight limits, outcome recording, and the write-through cache
// cannot be bypassed.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/marketcache"
	"github.com/fxlens/fxlens/internal/providers"
	"github.com/fxlens/fxlens/internal/ratelimit"
)

// ProviderSettings are the per-provider call parameters.
type ProviderSettings struct {
	CallTimeout time.Duration // deadline for one upstream call
	MaxInFlight int           // concurrent call ceiling, 0 = unlimited
}

// defaultCallTimeout applies when a provider has no explicit setting.
const defaultCallTimeout = 10 * time.Second

// Fetcher executes provider calls under quota and concurrency control.
type Fetcher struct {
	adapters map[string]providers.Adapter
	tracker  *ratelimit.Tracker
	cache    *marketcache.Repository
	scorer   *health.Scorer
	ttls     map[market.Kind]time.Duration
	settings map[string]ProviderSettings
	log      zerolog.Logger

	mu         sync.Mutex
	semaphores map[string]chan struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a fetcher over the given adapters.
func New(
	adapters []providers.Adapter,
	tracker *ratelimit.Tracker,
	cache *marketcache.Repository,
	scorer *health.Scorer,
	ttls map[market.Kind]time.Duration,
	settings map[string]ProviderSettings,
	log zerolog.Logger,
) *Fetcher {
	byName := make(map[string]providers.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Fetcher{
		adapters:   byName,
		tracker:    tracker,
		cache:      cache,
		scorer:     scorer,
		ttls:       ttls,
		settings:   settings,
		log:        log.With().Str("component", "fetch").Logger(),
		semaphores: make(map[string]chan struct{}),
		sleep:      sleepCtx,
	}
}

// sleepCtx waits for d unless the context is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Adapter returns the adapter registered under name, if any.
func (f *Fetcher) Adapter(name string) (providers.Adapter, bool) {
	a, ok := f.adapters[name]
	return a, ok
}

// semaphore returns the in-flight limiter for a provider, creating it on
// first use. Returns nil when the provider has no in-flight cap.
func (f *Fetcher) semaphore(provider string) chan struct{} {
	limit := f.settings[provider].MaxInFlight
	if limit <= 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sem, ok := f.semaphores[provider]
	if !ok {
		sem = make(chan struct{}, limit)
		f.semaphores[provider] = sem
	}
	return sem
}

// Fetch performs one quota-checked call against the named provider and
// writes the result through to the cache. Recoverable failures come back
// wrapped in one of the package sentinel errors.
func (f *Fetcher) Fetch(ctx context.Context, provider string, req providers.Request) (market.Payload, error) {
	adapter, ok := f.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	decision := f.tracker.Allow(provider)
	switch decision.Kind {
	case ratelimit.Reject:
		f.log.Debug().
			Str("provider", provider).
			Str("pair", req.Symbol).
			Msg("Quota exhausted, rejecting call")
		return nil, fmt.Errorf("%w: %s", ErrQuotaExceeded, provider)
	case ratelimit.Delay:
		f.log.Debug().
			Str("provider", provider).
			Dur("wait", decision.Wait).
			Msg("Throttling call")
		if err := f.sleep(ctx, decision.Wait); err != nil {
			// The window slot was already reserved; count the abandoned
			// call as a failure so the accounting stays honest.
			f.tracker.Record(provider, false)
			return nil, err
		}
	}

	if sem := f.semaphore(provider); sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			f.tracker.Record(provider, false)
			return nil, ctx.Err()
		}
	}

	timeout := f.settings[provider].CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	// Detach from the caller's cancellation: an impatient dashboard client
	// must not abort a call that is about to populate the cache for
	// everyone else. The call timeout still bounds it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	payload, err := adapter.Fetch(callCtx, req)
	latency := time.Since(start)

	if err != nil {
		classified := Classify(provider, err)
		f.tracker.Record(provider, false)
		f.scorer.Append(provider, false, latency, errorKind(classified))
		f.log.Warn().
			Err(classified).
			Str("provider", provider).
			Str("pair", req.Symbol).
			Dur("latency", latency).
			Msg("Provider call failed")
		return nil, classified
	}

	f.tracker.Record(provider, true)
	f.scorer.Append(provider, true, latency, "")

	f.store(req, payload)

	f.log.Debug().
		Str("provider", provider).
		Str("pair", req.Symbol).
		Str("kind", string(req.Kind)).
		Dur("latency", latency).
		Msg("Provider call succeeded")
	return payload, nil
}

// store writes a fetched payload through to the cache. Cache failures are
// logged, not propagated - the caller already has the data.
func (f *Fetcher) store(req providers.Request, payload market.Payload) {
	ttl, ok := f.ttls[req.Kind]
	if !ok {
		return
	}
	key := marketcache.Key(req.Symbol, req.Timeframe)
	if err := f.cache.Store(req.Kind, key, payload, ttl); err != nil {
		f.log.Warn().
			Err(err).
			Str("key", key).
			Str("kind", string(req.Kind)).
			Msg("Failed to cache fetched payload")
	}
}
