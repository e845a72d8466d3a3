package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/fxlens/fxlens/internal/analysis"
	"github.com/fxlens/fxlens/internal/config"
	"github.com/fxlens/fxlens/internal/database"
	"github.com/fxlens/fxlens/internal/events"
	"github.com/fxlens/fxlens/internal/fetch"
	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/marketcache"
	"github.com/fxlens/fxlens/internal/providers"
	"github.com/fxlens/fxlens/internal/ratelimit"
	"github.com/fxlens/fxlens/internal/resolve"
)

// stubAdapter serves deterministic prices and candles for routing tests.
type stubAdapter struct {
	name string
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Kinds() []market.Kind {
	return []market.Kind{market.KindPrice, market.KindCandles}
}

func (s *stubAdapter) Fetch(_ context.Context, req providers.Request) (market.Payload, error) {
	switch req.Kind {
	case market.KindPrice:
		return &market.PriceSnapshot{
			Pair:      req.Symbol,
			Price:     1.0845,
			Timestamp: time.Now().UTC(),
			Source:    s.name,
		}, nil
	case market.KindCandles:
		candles := make([]market.Candle, 80)
		base := time.Now().UTC().Add(-80 * time.Hour)
		for i := range candles {
			price := 1.05 + float64(i)*0.001
			candles[i] = market.Candle{
				Time:   base.Add(time.Duration(i) * time.Hour),
				Open:   price,
				High:   price + 0.0005,
				Low:    price - 0.0005,
				Close:  price,
				Volume: 1000,
			}
		}
		return &market.CandleSeries{
			Pair:      req.Symbol,
			Timeframe: req.Timeframe,
			Candles:   candles,
			Source:    s.name,
		}, nil
	default:
		return nil, &providers.APIError{Provider: s.name, Message: "unsupported kind"}
	}
}

type serverFixture struct {
	srv       *httptest.Server
	bus       *events.Bus
	emergency *health.EmergencyMode
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	log := zerolog.Nop()

	db, err := database.New(database.Config{
		Path:    "file::memory:",
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := marketcache.NewRepository(db.Conn())
	require.NoError(t, repo.InitSchema())

	tracker := ratelimit.NewTracker(map[string]ratelimit.Quota{
		"stub": {Limit: 1000, Period: time.Hour},
	}, log)
	scorer := health.NewScorer(tracker, health.DefaultWeights(), log)
	emergency := health.NewEmergencyMode(log)
	bus := events.NewBus(log)

	ttls := map[market.Kind]time.Duration{
		market.KindPrice:   5 * time.Minute,
		market.KindCandles: time.Hour,
		market.KindSignals: 10 * time.Minute,
	}
	fetcher := fetch.New(
		[]providers.Adapter{&stubAdapter{name: "stub"}},
		tracker, repo, scorer, ttls, nil, log,
	)
	orch := resolve.New(fetcher, repo, nil, scorer, resolve.Options{
		Priority: map[market.Kind][]string{
			market.KindPrice:   {"stub"},
			market.KindCandles: {"stub"},
		},
		ServeStale: map[market.Kind]bool{market.KindCandles: true, market.KindSignals: true},
		TTLs:       ttls,
	}, log)

	analyzer := analysis.NewAnalyzer(log)
	signals := analysis.NewService(orch, repo, analyzer, ttls[market.KindSignals], log)

	cfg := &config.Config{
		Port:      8080,
		DevMode:   true,
		Pairs:     []string{"EURUSD", "GBPUSD"},
		CorePairs: []string{"EURUSD"},
	}

	s := New(Config{
		Log:          log,
		Cfg:          cfg,
		Orchestrator: orch,
		Signals:      signals,
		Analyzer:     analyzer,
		Scorer:       scorer,
		Emergency:    emergency,
		Tracker:      tracker,
		Bus:          bus,
	})

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &serverFixture{srv: srv, bus: bus, emergency: emergency}
}

func getJSONBody(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestLivenessEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	body := getJSONBody(t, fx.srv.URL+"/health", http.StatusOK)
	assert.Equal(t, "ok", body["status"])
}

func TestPairsEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	body := getJSONBody(t, fx.srv.URL+"/api/forex/pairs", http.StatusOK)

	pairs := body["pairs"].([]any)
	require.Len(t, pairs, 2)

	first := pairs[0].(map[string]any)
	assert.Equal(t, "EURUSD", first["pair"])
	assert.InDelta(t, 1.0845, first["price"], 1e-9)

	meta := first["meta"].(map[string]any)
	assert.Equal(t, "primary", meta["label"])
	assert.Equal(t, "stub", meta["provider"])
}

func TestPairDataEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	body := getJSONBody(t, fx.srv.URL+"/api/forex/data/EURUSD?timeframe=1h", http.StatusOK)

	assert.Equal(t, "EURUSD", body["pair"])
	assert.Equal(t, "1h", body["timeframe"])

	price := body["price"].(map[string]any)
	assert.InDelta(t, 1.0845, price["price"], 1e-9)

	candles := body["candles"].(map[string]any)
	assert.Len(t, candles["candles"], 80)
}

func TestPairDataEndpoint_InvalidPair(t *testing.T) {
	fx := newServerFixture(t)
	resp, err := http.Get(fx.srv.URL + "/api/forex/data/NOTAPAIR!")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTechnicalEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	body := getJSONBody(t, fx.srv.URL+"/api/analysis/technical/EURUSD", http.StatusOK)

	indicators := body["indicators"].(map[string]any)
	assert.Contains(t, indicators, "rsi")
	assert.Contains(t, indicators, "sma_20")
}

func TestSignalsEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	body := getJSONBody(t, fx.srv.URL+"/api/signals/EURUSD", http.StatusOK)

	signals := body["signals"].(map[string]any)
	assert.Equal(t, "EURUSD", signals["pair"])
	assert.Contains(t, []any{"BUY", "SELL", "NEUTRAL"}, signals["action"])

	meta := body["meta"].(map[string]any)
	assert.Equal(t, "stub", meta["provider"])
}

func TestAllSignalsEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	body := getJSONBody(t, fx.srv.URL+"/api/signals", http.StatusOK)

	signals := body["signals"].(map[string]any)
	assert.Len(t, signals, 2)
	assert.Contains(t, signals, "EURUSD")
	assert.Contains(t, signals, "GBPUSD")
}

func TestSystemHealthEndpoint(t *testing.T) {
	fx := newServerFixture(t)
	body := getJSONBody(t, fx.srv.URL+"/api/system/health", http.StatusOK)

	healthBlock := body["health"].(map[string]any)
	assert.InDelta(t, 100.0, healthBlock["health_score"], 0.001)
	assert.Equal(t, "healthy", healthBlock["status"])

	emergencyBlock := body["emergency"].(map[string]any)
	assert.Equal(t, false, emergencyBlock["active"])
}

func TestRateLimitsEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	// One resolve consumes one quota slot for the stub provider.
	getJSONBody(t, fx.srv.URL+"/api/forex/data/EURUSD", http.StatusOK)

	body := getJSONBody(t, fx.srv.URL+"/api/system/rate-limits", http.StatusOK)
	stub := body["providers"].(map[string]any)["stub"].(map[string]any)
	assert.Equal(t, float64(1000), stub["limit"])
	assert.GreaterOrEqual(t, stub["current"], float64(1))
}

func TestEmergencyEndpoints(t *testing.T) {
	fx := newServerFixture(t)

	// Missing reason is rejected.
	resp, err := http.Post(fx.srv.URL+"/api/system/emergency", "application/json",
		bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(fx.srv.URL+"/api/system/emergency", "application/json",
		bytes.NewBufferString(`{"reason":"provider outage","duration_minutes":30}`))
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, status["active"])
	assert.Equal(t, "provider outage", status["reason"])

	body := getJSONBody(t, fx.srv.URL+"/api/system/emergency", http.StatusOK)
	assert.Equal(t, true, body["active"])

	resp, err = http.Post(fx.srv.URL+"/api/system/emergency/reset", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, fx.emergency.Active())
}

func TestBackupEndpoints_NotConfigured(t *testing.T) {
	fx := newServerFixture(t)

	resp, err := http.Get(fx.srv.URL + "/api/system/backups")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	resp, err = http.Post(fx.srv.URL+"/api/system/backups", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestEventsStream_DeliversEvents(t *testing.T) {
	fx := newServerFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fx.srv.URL+"/api/events/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readEvent := func() map[string]any {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				var payload map[string]any
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
				return payload
			}
		}
	}

	assert.Equal(t, "connected", readEvent()["type"])

	fx.bus.Emit(events.PriceUpdated, "refresh", events.PriceUpdatedData{
		Pair: "EURUSD", Price: 1.08, Source: "stub", Label: "primary",
	})

	event := readEvent()
	assert.Equal(t, string(events.PriceUpdated), event["type"])
	data := event["data"].(map[string]any)
	assert.Equal(t, "EURUSD", data["pair"])
}

func TestEventsStream_TypeFilter(t *testing.T) {
	fx := newServerFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/api/events/stream?types=%s", fx.srv.URL, events.QuotaWarning)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readEvent := func() map[string]any {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.HasPrefix(line, "data: ") {
				var payload map[string]any
				require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &payload))
				return payload
			}
		}
	}

	require.Equal(t, "connected", readEvent()["type"])

	// The filtered-out type never reaches the stream; the allowed one does.
	fx.bus.Emit(events.PriceUpdated, "refresh", events.PriceUpdatedData{Pair: "EURUSD"})
	fx.bus.Emit(events.QuotaWarning, "health", events.QuotaWarningData{Provider: "stub"})

	assert.Equal(t, string(events.QuotaWarning), readEvent()["type"])
}

func TestWebsocketStream(t *testing.T) {
	fx := newServerFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(fx.srv.URL, "http://", "ws://", 1) + "/api/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var msg map[string]any
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "connected", msg["type"])

	fx.bus.Emit(events.SignalsUpdated, "refresh", events.SignalsUpdatedData{
		Pair: "EURUSD", Action: "BUY",
	})

	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, string(events.SignalsUpdated), msg["type"])
}
