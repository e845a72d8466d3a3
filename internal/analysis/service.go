package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/marketcache"
	"github.com/fxlens/fxlens/internal/providers"
	"github.com/fxlens/fxlens/internal/resolve"
)

// Service composes the resolution chain with the analyzer: it serves
// signal bundles from the cache when fresh and recomputes them from
// candles otherwise. Provenance is inherited from the candle source, so a
// bundle computed from synthetic candles keeps the synthetic label.
type Service struct {
	orch     *resolve.Orchestrator
	cache    *marketcache.Repository
	analyzer *Analyzer
	ttl      time.Duration
	log      zerolog.Logger
}

// NewService creates the signal service. ttl is the signal cache lifetime.
func NewService(orch *resolve.Orchestrator, cache *marketcache.Repository, analyzer *Analyzer, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		orch:     orch,
		cache:    cache,
		analyzer: analyzer,
		ttl:      ttl,
		log:      log.With().Str("component", "signal_service").Logger(),
	}
}

// SignalsFor returns the signal bundle for a pair and timeframe, computing
// and caching it when no fresh bundle exists.
func (s *Service) SignalsFor(ctx context.Context, pair, timeframe string) (*resolve.Result, error) {
	req := providers.Request{Symbol: pair, Timeframe: timeframe, Kind: market.KindSignals}

	// A cached bundle resolves directly; signals have no providers of
	// their own, so any other outcome means "compute now".
	if result, err := s.orch.Resolve(ctx, req); err == nil {
		return result, nil
	}

	candles, err := s.orch.Resolve(ctx, providers.Request{
		Symbol: pair, Timeframe: timeframe, Kind: market.KindCandles,
	})
	if err != nil {
		return nil, err
	}

	series, ok := candles.Payload.(*market.CandleSeries)
	if !ok {
		return nil, &providers.APIError{Provider: candles.Provider, Message: "candle payload has unexpected type"}
	}

	bundle, err := s.analyzer.Signals(series, candles.Confidence)
	if err != nil {
		return nil, err
	}

	key := marketcache.Key(pair, timeframe)
	if err := s.cache.Store(market.KindSignals, key, bundle, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("pair", pair).Msg("Failed to cache signal bundle")
	}

	return &resolve.Result{
		Payload:    bundle,
		Label:      candles.Label,
		Provider:   candles.Provider,
		Confidence: candles.Confidence,
		Freshness:  candles.Freshness,
		Stale:      candles.Stale,
		ResolvedAt: candles.ResolvedAt,
	}, nil
}
