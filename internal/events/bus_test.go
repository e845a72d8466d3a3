package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversToSubscribedType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var received []*Event
	bus.Subscribe(PriceUpdated, func(e *Event) {
		received = append(received, e)
	})

	bus.Emit(PriceUpdated, "refresh", PriceUpdatedData{Pair: "EURUSD", Price: 1.09})
	bus.Emit(SignalsUpdated, "refresh", SignalsUpdatedData{Pair: "EURUSD"})

	require.Len(t, received, 1, "handler only sees its subscribed type")
	assert.Equal(t, PriceUpdated, received[0].Type)
	assert.Equal(t, "refresh", received[0].Module)
	assert.False(t, received[0].Timestamp.IsZero())

	data := received[0].Data.(PriceUpdatedData)
	assert.Equal(t, "EURUSD", data.Pair)
}

func TestBus_MultipleHandlersAllFire(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	count := 0
	for i := 0; i < 3; i++ {
		bus.Subscribe(QuotaWarning, func(*Event) { count++ })
	}

	bus.Emit(QuotaWarning, "ratelimit", QuotaWarningData{Provider: "yahoo_finance", UsageFraction: 0.92})
	assert.Equal(t, 3, count)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	fired := false
	bus.Subscribe(HealthChanged, func(*Event) { panic("boom") })
	bus.Subscribe(HealthChanged, func(*Event) { fired = true })

	assert.NotPanics(t, func() {
		bus.Emit(HealthChanged, "health", HealthChangedData{Score: 55, Status: "critical"})
	})
	assert.True(t, fired, "later handlers still run after a panic")
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var kept, dropped int
	bus.Subscribe(PriceUpdated, func(*Event) { kept++ })
	unsubscribe := bus.Subscribe(PriceUpdated, func(*Event) { dropped++ })

	bus.Emit(PriceUpdated, "refresh", PriceUpdatedData{Pair: "EURUSD"})
	unsubscribe()
	bus.Emit(PriceUpdated, "refresh", PriceUpdatedData{Pair: "EURUSD"})

	assert.Equal(t, 2, kept, "remaining handler keeps receiving")
	assert.Equal(t, 1, dropped, "removed handler sees nothing after unsubscribe")
	assert.Len(t, bus.handlers[PriceUpdated], 1, "removed handler is gone from the bus")
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	unsubscribe := bus.Subscribe(HealthChanged, func(*Event) {})
	unsubscribe()
	assert.NotPanics(t, unsubscribe)
	assert.Empty(t, bus.handlers[HealthChanged])
}

func TestBus_EmitWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	assert.NotPanics(t, func() {
		bus.Emit(RefreshCompleted, "refresh", nil)
	})
}
