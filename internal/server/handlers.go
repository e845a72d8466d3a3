package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/fxlens/fxlens/internal/analysis"
	"github.com/fxlens/fxlens/internal/config"
	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/providers"
	"github.com/fxlens/fxlens/internal/resolve"
)

// defaultTimeframe is used when a request does not specify one.
const defaultTimeframe = "1h"

// MarketHandlers serves the forex data, analysis, and signal endpoints.
type MarketHandlers struct {
	orch     *resolve.Orchestrator
	signals  *analysis.Service
	analyzer *analysis.Analyzer
	cfg      *config.Config
	log      zerolog.Logger
}

// NewMarketHandlers creates the market data handlers.
func NewMarketHandlers(orch *resolve.Orchestrator, signals *analysis.Service, analyzer *analysis.Analyzer, cfg *config.Config, log zerolog.Logger) *MarketHandlers {
	return &MarketHandlers{
		orch:     orch,
		signals:  signals,
		analyzer: analyzer,
		cfg:      cfg,
		log:      log.With().Str("component", "market_handlers").Logger(),
	}
}

// meta is the provenance block attached to every resolved response.
type meta struct {
	Label      string    `json:"label"`
	Provider   string    `json:"provider"`
	Confidence float64   `json:"confidence"`
	Freshness  float64   `json:"freshness"`
	Stale      bool      `json:"stale"`
	ResolvedAt time.Time `json:"resolved_at"`
}

func metaOf(result *resolve.Result) meta {
	return meta{
		Label:      string(result.Label),
		Provider:   result.Provider,
		Confidence: result.Confidence,
		Freshness:  result.Freshness,
		Stale:      result.Stale,
		ResolvedAt: result.ResolvedAt,
	}
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// An encode failure here means the client went away mid-response.
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// pairParam extracts and validates the pair path parameter.
func pairParam(r *http.Request) (string, bool) {
	pair := market.NormalizePair(chi.URLParam(r, "pair"))
	if _, _, err := market.SplitPair(pair); err != nil {
		return "", false
	}
	return pair, true
}

// timeframeParam extracts the timeframe query parameter.
func timeframeParam(r *http.Request) string {
	if tf := r.URL.Query().Get("timeframe"); tf != "" {
		return tf
	}
	return defaultTimeframe
}

// HandlePairs handles GET /api/forex/pairs. It returns the tracked pairs
// with their current rates; pairs that cannot be resolved at all are
// reported with an error field instead of being dropped.
func (h *MarketHandlers) HandlePairs(w http.ResponseWriter, r *http.Request) {
	type pairEntry struct {
		Pair      string    `json:"pair"`
		Price     float64   `json:"price,omitempty"`
		Timestamp time.Time `json:"timestamp,omitempty"`
		Meta      *meta     `json:"meta,omitempty"`
		Error     string    `json:"error,omitempty"`
	}

	entries := make([]pairEntry, 0, len(h.cfg.Pairs))
	for _, pair := range h.cfg.Pairs {
		result, err := h.orch.Resolve(r.Context(), providers.Request{Symbol: pair, Kind: market.KindPrice})
		if err != nil {
			h.log.Warn().Err(err).Str("pair", pair).Msg("Failed to resolve pair price")
			entries = append(entries, pairEntry{Pair: pair, Error: "unavailable"})
			continue
		}

		entry := pairEntry{Pair: pair}
		if price, ok := result.Payload.(*market.PriceSnapshot); ok {
			entry.Price = price.Price
			entry.Timestamp = price.Timestamp
		}
		m := metaOf(result)
		entry.Meta = &m
		entries = append(entries, entry)
	}

	respondJSON(w, http.StatusOK, map[string]any{"pairs": entries})
}

// HandlePairData handles GET /api/forex/data/{pair}. Returns the current
// rate and the candle series for the requested timeframe.
func (h *MarketHandlers) HandlePairData(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid pair symbol")
		return
	}
	timeframe := timeframeParam(r)

	price, err := h.orch.Resolve(r.Context(), providers.Request{Symbol: pair, Kind: market.KindPrice})
	if err != nil {
		h.log.Error().Err(err).Str("pair", pair).Msg("Failed to resolve price")
		respondError(w, http.StatusServiceUnavailable, "no price data available")
		return
	}

	candles, err := h.orch.Resolve(r.Context(), providers.Request{
		Symbol: pair, Timeframe: timeframe, Kind: market.KindCandles,
	})
	if err != nil {
		h.log.Error().Err(err).Str("pair", pair).Msg("Failed to resolve candles")
		respondError(w, http.StatusServiceUnavailable, "no candle data available")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"pair":        pair,
		"timeframe":   timeframe,
		"price":       price.Payload,
		"price_meta":  metaOf(price),
		"candles":     candles.Payload,
		"candle_meta": metaOf(candles),
	})
}

// HandleTechnical handles GET /api/analysis/technical/{pair}.
func (h *MarketHandlers) HandleTechnical(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid pair symbol")
		return
	}
	timeframe := timeframeParam(r)

	result, err := h.orch.Resolve(r.Context(), providers.Request{
		Symbol: pair, Timeframe: timeframe, Kind: market.KindCandles,
	})
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "no candle data available")
		return
	}

	series, ok := result.Payload.(*market.CandleSeries)
	if !ok {
		respondError(w, http.StatusInternalServerError, "unexpected payload type")
		return
	}

	indicators, err := h.analyzer.Indicators(series)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"pair":       pair,
		"timeframe":  timeframe,
		"indicators": indicators,
		"meta":       metaOf(result),
	})
}

// HandlePairSignals handles GET /api/signals/{pair}.
func (h *MarketHandlers) HandlePairSignals(w http.ResponseWriter, r *http.Request) {
	pair, ok := pairParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid pair symbol")
		return
	}

	result, err := h.signals.SignalsFor(r.Context(), pair, timeframeParam(r))
	if err != nil {
		h.log.Error().Err(err).Str("pair", pair).Msg("Failed to compute signals")
		respondError(w, http.StatusServiceUnavailable, "no signal data available")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"signals": result.Payload,
		"meta":    metaOf(result),
	})
}

// HandleAllSignals handles GET /api/signals. Pairs whose signals cannot
// be computed are skipped rather than failing the whole response.
func (h *MarketHandlers) HandleAllSignals(w http.ResponseWriter, r *http.Request) {
	timeframe := timeframeParam(r)

	type signalEntry struct {
		Signals any  `json:"signals"`
		Meta    meta `json:"meta"`
	}

	out := make(map[string]signalEntry, len(h.cfg.Pairs))
	for _, pair := range h.cfg.Pairs {
		result, err := h.signals.SignalsFor(r.Context(), pair, timeframe)
		if err != nil {
			h.log.Warn().Err(err).Str("pair", pair).Msg("Skipping pair in signal listing")
			continue
		}
		out[pair] = signalEntry{Signals: result.Payload, Meta: metaOf(result)}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"timeframe": timeframe,
		"signals":   out,
	})
}
