package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fxlens/fxlens/internal/database"
	"github.com/fxlens/fxlens/internal/health"
	"github.com/fxlens/fxlens/internal/market"
	"github.com/fxlens/fxlens/internal/marketcache"
	"github.com/fxlens/fxlens/internal/providers"
	"github.com/fxlens/fxlens/internal/ratelimit"
)

type fakeAdapter struct {
	name  string
	fetch func(ctx context.Context, req providers.Request) (market.Payload, error)
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Kinds() []market.Kind {
	return []market.Kind{market.KindPrice, market.KindCandles}
}

func (a *fakeAdapter) Fetch(ctx context.Context, req providers.Request) (market.Payload, error) {
	return a.fetch(ctx, req)
}

func okPrice(pair string, price float64) func(context.Context, providers.Request) (market.Payload, error) {
	return func(context.Context, providers.Request) (market.Payload, error) {
		return &market.PriceSnapshot{
			Pair:      pair,
			Price:     price,
			Timestamp: time.Now().UTC(),
			Source:    "fake",
		}, nil
	}
}

type fixture struct {
	fetcher *Fetcher
	tracker *ratelimit.Tracker
	cache   *marketcache.Repository
	scorer  *health.Scorer
}

func newFixture(t *testing.T, adapters []providers.Adapter, quotas map[string]ratelimit.Quota, settings map[string]ProviderSettings) *fixture {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    "file::memory:",
		Profile: database.ProfileCache,
		Name:    "test_cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := marketcache.NewRepository(db.Conn())
	require.NoError(t, cache.InitSchema())

	tracker := ratelimit.NewTracker(quotas, zerolog.Nop())
	scorer := health.NewScorer(tracker, health.DefaultWeights(), zerolog.Nop())

	ttls := map[market.Kind]time.Duration{
		market.KindPrice:   5 * time.Minute,
		market.KindCandles: time.Hour,
	}
	return &fixture{
		fetcher: New(adapters, tracker, cache, scorer, ttls, settings, zerolog.Nop()),
		tracker: tracker,
		cache:   cache,
		scorer:  scorer,
	}
}

func TestFetch_SuccessWritesThroughToCache(t *testing.T) {
	fx := newFixture(t, []providers.Adapter{
		&fakeAdapter{name: "fake", fetch: okPrice("EURUSD", 1.09)},
	}, nil, nil)

	payload, err := fx.fetcher.Fetch(context.Background(), "fake", providers.Request{
		Symbol: "EURUSD", Kind: market.KindPrice,
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.09, payload.(*market.PriceSnapshot).Price, 1e-9)

	entry, err := fx.cache.GetIfFresh(market.KindPrice, marketcache.Key("EURUSD", ""))
	require.NoError(t, err)
	assert.NotNil(t, entry, "successful fetch must populate the cache")

	assert.Equal(t, int64(1), fx.scorer.Snapshot().TotalRequests)
}

func TestFetch_QuotaRejectNeverCallsAdapter(t *testing.T) {
	called := false
	fx := newFixture(t, []providers.Adapter{
		&fakeAdapter{name: "fake", fetch: func(context.Context, providers.Request) (market.Payload, error) {
			called = true
			return nil, nil
		}},
	}, map[string]ratelimit.Quota{
		"fake": {Limit: 1, Period: time.Hour},
	}, nil)

	// Burn the only window slot before the fetch.
	fx.tracker.Allow("fake")

	_, err := fx.fetcher.Fetch(context.Background(), "fake", providers.Request{
		Symbol: "EURUSD", Kind: market.KindPrice,
	})

	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.False(t, called, "rejected call must never reach the adapter")
}

func TestFetch_DelayDecisionSleeps(t *testing.T) {
	fx := newFixture(t, []providers.Adapter{
		&fakeAdapter{name: "fake", fetch: okPrice("EURUSD", 1.09)},
	}, map[string]ratelimit.Quota{
		"fake": {Limit: 100, Period: time.Hour, MinSpacing: time.Second},
	}, nil)

	var slept time.Duration
	fx.fetcher.sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		return nil
	}

	ctx := context.Background()
	req := providers.Request{Symbol: "EURUSD", Kind: market.KindPrice}

	_, err := fx.fetcher.Fetch(ctx, "fake", req)
	require.NoError(t, err)
	assert.Zero(t, slept, "first call needs no throttle delay")

	_, err = fx.fetcher.Fetch(ctx, "fake", req)
	require.NoError(t, err)
	assert.Equal(t, time.Second, slept)
}

func TestFetch_TimeoutIsClassified(t *testing.T) {
	fx := newFixture(t, []providers.Adapter{
		&fakeAdapter{name: "slow", fetch: func(ctx context.Context, _ providers.Request) (market.Payload, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	}, nil, map[string]ProviderSettings{
		"slow": {CallTimeout: 10 * time.Millisecond},
	})

	_, err := fx.fetcher.Fetch(context.Background(), "slow", providers.Request{
		Symbol: "EURUSD", Kind: market.KindPrice,
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int64(1), fx.tracker.Status()["slow"].Failures)
}

func TestFetch_APIErrorIsProviderClass(t *testing.T) {
	fx := newFixture(t, []providers.Adapter{
		&fakeAdapter{name: "fake", fetch: func(context.Context, providers.Request) (market.Payload, error) {
			return nil, &providers.APIError{Provider: "fake", StatusCode: 500, Message: "boom"}
		}},
	}, nil, nil)

	_, err := fx.fetcher.Fetch(context.Background(), "fake", providers.Request{
		Symbol: "EURUSD", Kind: market.KindPrice,
	})

	assert.ErrorIs(t, err, ErrProvider)
}

func TestFetch_TransportErrorIsNetworkClass(t *testing.T) {
	fx := newFixture(t, []providers.Adapter{
		&fakeAdapter{name: "fake", fetch: func(context.Context, providers.Request) (market.Payload, error) {
			return nil, errors.New("connection refused")
		}},
	}, nil, nil)

	_, err := fx.fetcher.Fetch(context.Background(), "fake", providers.Request{
		Symbol: "EURUSD", Kind: market.KindPrice,
	})

	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetch_CallerCancellationDoesNotAbortCall(t *testing.T) {
	fx := newFixture(t, []providers.Adapter{
		&fakeAdapter{name: "fake", fetch: func(ctx context.Context, _ providers.Request) (market.Payload, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return okPrice("EURUSD", 1.09)(ctx, providers.Request{})
		}},
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload, err := fx.fetcher.Fetch(ctx, "fake", providers.Request{
		Symbol: "EURUSD", Kind: market.KindPrice,
	})
	require.NoError(t, err, "in-flight call must be detached from caller cancellation")
	assert.NotNil(t, payload)

	entry, err := fx.cache.GetIfFresh(market.KindPrice, marketcache.Key("EURUSD", ""))
	require.NoError(t, err)
	assert.NotNil(t, entry, "detached call still populates the cache")
}

func TestFetch_UnknownProvider(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)

	_, err := fx.fetcher.Fetch(context.Background(), "ghost", providers.Request{
		Symbol: "EURUSD", Kind: market.KindPrice,
	})
	assert.Error(t, err)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, Classify("p", context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, Classify("p", &providers.APIError{Provider: "p", Message: "bad"}), ErrProvider)
	assert.ErrorIs(t, Classify("p", errors.New("dial tcp: refused")), ErrNetwork)

	assert.Equal(t, "timeout", errorKind(Classify("p", context.DeadlineExceeded)))
	assert.Equal(t, "provider", errorKind(Classify("p", &providers.APIError{})))
	assert.Equal(t, "network", errorKind(Classify("p", errors.New("x"))))
}
