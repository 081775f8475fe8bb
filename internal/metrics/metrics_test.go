package metrics

import "testing"

func TestCountersAccumulate(t *testing.T) {
	Init("")

	before := Snapshot()
	IncInbound("binance", 100)
	IncInbound("binance", 50)
	IncOutbound("kucoin", 25)
	IncDecodeError("okx")
	IncDropped("bybit")
	IncReconnect("binance")
	SetActiveConnections(3)

	after := Snapshot()
	if got := after["MessagesIn"] - before["MessagesIn"]; got != 2 {
		t.Fatalf("expected 2 inbound messages, got %v", got)
	}
	if got := after["BytesIn"] - before["BytesIn"]; got != 150 {
		t.Fatalf("expected 150 inbound bytes, got %v", got)
	}
	if got := after["MessagesOut"] - before["MessagesOut"]; got != 1 {
		t.Fatalf("expected 1 outbound message, got %v", got)
	}
	if got := after["DecodeErrors"] - before["DecodeErrors"]; got != 1 {
		t.Fatalf("expected 1 decode error, got %v", got)
	}
	if got := after["DroppedOutbound"] - before["DroppedOutbound"]; got != 1 {
		t.Fatalf("expected 1 dropped payload, got %v", got)
	}
	if got := after["Reconnects"] - before["Reconnects"]; got != 1 {
		t.Fatalf("expected 1 reconnect, got %v", got)
	}
	if after["ActiveConnections"] != 3 {
		t.Fatalf("expected 3 active connections, got %v", after["ActiveConnections"])
	}
}

func TestCountersSafeBeforeInit(t *testing.T) {
	// Counter helpers must not panic when Init has not run; the atomic
	// totals still accumulate.
	IncInbound("binance", 10)
	IncOutbound("binance", 10)
	IncDecodeError("binance")
	if Snapshot()["MessagesIn"] == 0 {
		t.Fatal("expected totals to accumulate without Init")
	}
}
