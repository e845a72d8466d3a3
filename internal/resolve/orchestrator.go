// Package resolve implements the fallback chain that turns a dataset
// request into the best available answer: fresh cache, then providers in
// priority order, then stale cache, then synthetic data as the floor.
package resolve

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/fetch"
	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/marketcache"
	"github.com/fxlens/fxlens/internal/providers"
)

// Result is a resolved dataset with its provenance. The quality label and
// confidence travel with the payload all the way to the API response so a
// consumer can always tell live data from a placeholder.
type Result struct {
	Payload    market.Payload
	Label      market.QualityLabel
	Provider   string
	Confidence float64 // 0-100 trust in the source, discounted by its recent error rate
	Freshness  float64 // 0-1 age rating, independent of Confidence
	Stale      bool    // true when served past its TTL
	ResolvedAt time.Time
}

// Options configures the per-kind resolution behavior.
type Options struct {
	// Priority lists provider names in preference order, per dataset kind.
	Priority map[market.Kind][]string
	// ServeStale allows expired cache entries as a fallback, per kind.
	ServeStale map[market.Kind]bool
	// TTLs drive the freshness rating of cached payloads.
	TTLs map[market.Kind]time.Duration
}

// Orchestrator owns the resolution chain.
type Orchestrator struct {
	fetcher   *fetch.Fetcher
	cache     *marketcache.Repository
	synthetic providers.Adapter
	scorer    *health.Scorer
	opts      Options
	now       func() time.Time
	log       zerolog.Logger
}

// New creates an orchestrator. synthetic may be nil to disable the
// synthetic floor entirely. The scorer supplies each provider's recent
// error rate for confidence scoring.
func New(
	fetcher *fetch.Fetcher,
	cache *marketcache.Repository,
	synthetic providers.Adapter,
	scorer *health.Scorer,
	opts Options,
	log zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		cache:     cache,
		synthetic: synthetic,
		scorer:    scorer,
		opts:      opts,
		now:       time.Now,
		log:       log.With().Str("component", "resolve").Logger(),
	}
}

// confidence rates a source by its static ranking discounted by how it
// has been behaving lately.
func (o *Orchestrator) confidence(provider string) float64 {
	var errorRate float64
	if o.scorer != nil {
		errorRate = o.scorer.ProviderErrorRate(provider)
	}
	return confidenceFor(provider, errorRate)
}

// Resolve walks the fallback chain for one dataset request. It only
// returns an error when every tier including the synthetic floor is
// unavailable for the requested kind.
func (o *Orchestrator) Resolve(ctx context.Context, req providers.Request) (*Result, error) {
	key := marketcache.Key(req.Symbol, req.Timeframe)
	now := o.now()

	// Tier 1: fresh cache.
	if entry, err := o.cache.GetIfFresh(req.Kind, key); err == nil && entry != nil {
		if payload, err := market.Decode(req.Kind, entry.Data); err == nil {
			source := market.SourceOf(payload)
			return &Result{
				Payload:    payload,
				Label:      market.LabelCached,
				Provider:   source,
				Confidence: o.confidence(source),
				Freshness:  freshnessOf(now.Sub(entry.StoredAt), o.opts.TTLs[req.Kind]),
				ResolvedAt: now,
			}, nil
		}
	}

	// Tier 2: providers in priority order. Quota rejections and provider
	// failures both just move the chain along.
	var errs []error
	for i, name := range o.opts.Priority[req.Kind] {
		payload, err := o.fetcher.Fetch(ctx, name, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		label := market.LabelPrimary
		if i > 0 {
			label = market.LabelFallback
			o.log.Info().
				Str("pair", req.Symbol).
				Str("kind", string(req.Kind)).
				Str("provider", name).
				Msg("Primary source unavailable, served from fallback provider")
		}
		return &Result{
			Payload:    payload,
			Label:      label,
			Provider:   name,
			Confidence: o.confidence(name),
			Freshness:  1,
			ResolvedAt: now,
		}, nil
	}

	// Tier 3: stale cache, where the kind allows it.
	if o.opts.ServeStale[req.Kind] {
		if entry, err := o.cache.Get(req.Kind, key); err == nil && entry != nil {
			if payload, err := market.Decode(req.Kind, entry.Data); err == nil {
				source := market.SourceOf(payload)
				o.log.Warn().
					Str("pair", req.Symbol).
					Str("kind", string(req.Kind)).
					Str("source", source).
					Time("stored_at", entry.StoredAt).
					Msg("All providers failed, serving stale cached data")
				return &Result{
					Payload:    payload,
					Label:      market.LabelCached,
					Provider:   source,
					Confidence: o.confidence(source),
					Freshness:  freshnessOf(now.Sub(entry.StoredAt), o.opts.TTLs[req.Kind]),
					Stale:      true,
					ResolvedAt: now,
				}, nil
			}
		}
	}

	// Tier 4: synthetic floor.
	if o.synthetic != nil && syntheticServes(o.synthetic, req.Kind) {
		payload, err := o.synthetic.Fetch(ctx, req)
		if err == nil {
			return &Result{
				Payload:    payload,
				Label:      market.LabelSynthetic,
				Provider:   o.synthetic.Name(),
				Confidence: o.confidence(o.synthetic.Name()),
				Freshness:  1,
				ResolvedAt: now,
			}, nil
		}
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		errs = append(errs, errors.New("no providers configured for kind "+string(req.Kind)))
	}
	return nil, errors.Join(errs...)
}

// syntheticServes reports whether the synthetic generator covers a kind.
func syntheticServes(a providers.Adapter, kind market.Kind) bool {
	for _, k := range a.Kinds() {
		if k == kind {
			return true
		}
	}
	return false
}
