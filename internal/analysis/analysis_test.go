package analysis

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxlens/fxlens/internal/market"
)

// trendSeries builds a deterministic series whose closes move by step per
// bar, starting at start.
func trendSeries(n int, start, step float64) *market.CandleSeries {
	base := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, n)
	price := start
	for i := range candles {
		next := price + step
		candles[i] = market.Candle{
			Time:   base.Add(time.Duration(i) * time.Hour),
			Open:   price,
			High:   maxOf(price, next) + 0.0001,
			Low:    minOf(price, next) - 0.0001,
			Close:  next,
			Volume: 1000,
		}
		price = next
	}
	return &market.CandleSeries{Pair: "EURUSD", Timeframe: "1h", Candles: candles, Source: "yahoo_finance"}
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minOf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func TestIndicators_ContainsFullSet(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())

	indicators, err := a.Indicators(trendSeries(120, 1.05, 0.0005))
	require.NoError(t, err)

	for _, key := range []string{"price", "rsi", "macd", "macd_signal", "macd_hist", "sma_20", "ema_50", "bb_upper", "bb_middle", "bb_lower"} {
		assert.Contains(t, indicators, key)
	}
	assert.GreaterOrEqual(t, indicators["rsi"], 0.0)
	assert.LessOrEqual(t, indicators["rsi"], 100.0)
	assert.Greater(t, indicators["bb_upper"], indicators["bb_lower"])
}

func TestIndicators_RejectsShortSeries(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())

	_, err := a.Indicators(trendSeries(minBars-1, 1.05, 0.0005))
	assert.Error(t, err)
}

func TestSignals_UptrendLeansBuy(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())

	bundle, err := a.Signals(trendSeries(120, 1.05, 0.0005), 95)
	require.NoError(t, err)

	assert.Equal(t, market.ActionBuy, bundle.Action)
	assert.GreaterOrEqual(t, bundle.TechnicalScore, float64(buyThreshold))
	assert.Equal(t, "yahoo_finance", bundle.Source)
}

func TestSignals_DowntrendLeansSell(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())

	bundle, err := a.Signals(trendSeries(120, 1.15, -0.0005), 95)
	require.NoError(t, err)

	assert.Equal(t, market.ActionSell, bundle.Action)
	assert.LessOrEqual(t, bundle.TechnicalScore, float64(sellThreshold))
}

func TestSignals_ConfidenceTracksSourceQuality(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	series := trendSeries(120, 1.05, 0.0005)

	trusted, err := a.Signals(series, 95)
	require.NoError(t, err)
	synthetic, err := a.Signals(series, 10)
	require.NoError(t, err)

	assert.Equal(t, trusted.Action, synthetic.Action, "source quality shifts confidence, not direction")
	assert.Greater(t, trusted.Confidence, synthetic.Confidence)
}

func TestSignals_IsDeterministic(t *testing.T) {
	a := NewAnalyzer(zerolog.Nop())
	series := trendSeries(120, 1.05, 0.0005)

	first, err := a.Signals(series, 90)
	require.NoError(t, err)
	second, err := a.Signals(series, 90)
	require.NoError(t, err)

	assert.Equal(t, first.TechnicalScore, second.TechnicalScore)
	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, first.Indicators, second.Indicators)
}
