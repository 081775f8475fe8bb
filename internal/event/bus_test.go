package event

import (
	"testing"

	"marketmux/logger"
)

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(logger.GetLogger())

	var order []int
	bus.On(TypeTrade, func(Event) { order = append(order, 1) })
	bus.On(TypeTrade, func(Event) { order = append(order, 2) })
	bus.On(TypeTrade, func(Event) { order = append(order, 3) })

	bus.Emit(New(TypeTrade, "c1", "binance", Trade{Symbol: "BTCUSDT"}))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("handlers ran in order %v, want [1 2 3]", order)
	}
}

func TestBusPanicIsolation(t *testing.T) {
	bus := NewBus(logger.GetLogger())

	var after bool
	bus.On(TypeQuote, func(Event) { panic("boom") })
	bus.On(TypeQuote, func(Event) { after = true })

	bus.Emit(New(TypeQuote, "c1", "binance", Quote{Symbol: "ETHUSDT"}))

	if !after {
		t.Fatal("handler after a panicking handler did not run")
	}
}

func TestBusOff(t *testing.T) {
	bus := NewBus(logger.GetLogger())

	var calls int
	id := bus.On(TypeCandle, func(Event) { calls++ })
	bus.Emit(New(TypeCandle, "c1", "binance", Candle{}))
	bus.Off(TypeCandle, id)
	bus.Emit(New(TypeCandle, "c1", "binance", Candle{}))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestBusOnlyMatchingType(t *testing.T) {
	bus := NewBus(logger.GetLogger())

	var calls int
	bus.On(TypeTrade, func(Event) { calls++ })
	bus.Emit(New(TypeQuote, "c1", "binance", Quote{}))

	if calls != 0 {
		t.Fatalf("trade handler ran for quote event")
	}
}
