package subs

import (
	"reflect"
	"testing"
)

func TestAddCrossProduct(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", []string{"trade", "ticker"}, []string{"BTCUSDT", "ETHUSDT"})

	if r.Count() != 4 {
		t.Fatalf("expected 4 entries, got %d", r.Count())
	}

	entries := r.For("c1")
	want := []Entry{
		{ConnID: "c1", Channel: "ticker", Symbol: "BTCUSDT"},
		{ConnID: "c1", Channel: "ticker", Symbol: "ETHUSDT"},
		{ConnID: "c1", Channel: "trade", Symbol: "BTCUSDT"},
		{ConnID: "c1", Channel: "trade", Symbol: "ETHUSDT"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", []string{"trade"}, []string{"BTCUSDT"})
	r.Add("c1", []string{"trade"}, []string{"BTCUSDT"})

	if r.Count() != 1 {
		t.Fatalf("expected 1 entry, got %d", r.Count())
	}
}

func TestRemoveInverse(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", []string{"trade", "ticker"}, []string{"BTCUSDT", "ETHUSDT"})
	r.Remove("c1", []string{"trade"}, []string{"BTCUSDT", "ETHUSDT"})

	entries := r.For("c1")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	for _, e := range entries {
		if e.Channel != "ticker" {
			t.Fatalf("unexpected surviving entry: %+v", e)
		}
	}
}

func TestConnectionsAreIsolated(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", []string{"trade"}, []string{"BTCUSDT"})
	r.Add("c2", []string{"trade"}, []string{"BTCUSDT"})

	r.Clear("c1")
	if len(r.For("c1")) != 0 {
		t.Fatal("expected c1 cleared")
	}
	if len(r.For("c2")) != 1 {
		t.Fatal("expected c2 untouched")
	}
}

func TestChannelsGroupsSymbols(t *testing.T) {
	r := NewRegistry()
	r.Add("c1", []string{"trade"}, []string{"ETHUSDT", "BTCUSDT"})
	r.Add("c1", []string{"orderbook"}, []string{"BTCUSDT"})

	grouped := r.Channels("c1")
	if !reflect.DeepEqual(grouped["trade"], []string{"BTCUSDT", "ETHUSDT"}) {
		t.Fatalf("unexpected trade symbols: %v", grouped["trade"])
	}
	if !reflect.DeepEqual(grouped["orderbook"], []string{"BTCUSDT"}) {
		t.Fatalf("unexpected orderbook symbols: %v", grouped["orderbook"])
	}
}
