package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxlens/fxlens/internal/market"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FXLENS_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Contains(t, cfg.Pairs, "EURUSD")
	assert.Contains(t, cfg.CorePairs, "EURUSD")

	// Every kind with a priority list must have a TTL.
	for kind := range cfg.Priority {
		assert.Contains(t, cfg.TTL, kind)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FXLENS_DATA_DIR", t.TempDir())
	t.Setenv("FXLENS_PORT", "9001")
	t.Setenv("FXLENS_PAIRS", "EURUSD, GBPUSD")
	t.Setenv("FXLENS_PRICE_REFRESH", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Port)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Pairs)
	assert.Equal(t, 30*time.Second, cfg.PriceRefreshInterval)
}

func TestValidate_RejectsBadConfig(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:  8080,
			Pairs: []string{"EURUSD"},
			TTL: map[market.Kind]time.Duration{
				market.KindPrice: time.Minute,
			},
			Priority: map[market.Kind][]string{
				market.KindPrice: {ProviderYahoo},
			},
		}
	}

	cfg := base()
	cfg.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Pairs = nil
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Pairs = []string{"NOTAPAIR!"}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Priority[market.KindCandles] = []string{ProviderYahoo}
	assert.Error(t, cfg.Validate(), "priority list without TTL must fail validation")

	assert.NoError(t, base().Validate())
}

func TestDefaultProviders_QuotasConfigured(t *testing.T) {
	providers := defaultProviders()

	for _, name := range []string{
		ProviderYahoo, ProviderAlphaVantage, ProviderExchangeRateAPI,
		ProviderExchangeRateHost, ProviderFawazCurrency,
	} {
		p, ok := providers[name]
		require.True(t, ok, name)
		assert.Greater(t, p.Limit, 0, name)
		assert.Greater(t, p.Period, time.Duration(0), name)
		assert.Greater(t, p.CallTimeout, time.Duration(0), name)
		assert.Greater(t, p.MaxInFlight, 0, name)
	}

	// Alpha Vantage carries the additional free-tier daily cap.
	assert.Equal(t, 20, providers[ProviderAlphaVantage].DailyCap)
}
