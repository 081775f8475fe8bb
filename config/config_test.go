package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigExpandsCredentials(t *testing.T) {
	t.Setenv("TEST_KUCOIN_KEY", "abc123")

	path := writeConfig(t, `
venues:
  kucoin:
    family: kucoin
    endpoint: wss://ws-api-futures.kucoin.com
    enabled: true
    credentials:
      key: ${TEST_KUCOIN_KEY}
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.Venues["kucoin"].Credentials.Key; got != "abc123" {
		t.Errorf("credentials.key = %q, want abc123", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
venues:
  binance:
    endpoint: wss://stream.binance.com:9443/ws
    enabled: true
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Manager.OutboundQueueSize != 1000 {
		t.Errorf("outbound_queue_size = %d, want 1000", cfg.Manager.OutboundQueueSize)
	}
	if cfg.Manager.HeartbeatInterval != 30*time.Second {
		t.Errorf("heartbeat_interval = %v, want 30s", cfg.Manager.HeartbeatInterval)
	}

	venue := cfg.Venues["binance"]
	if venue.Family != "binance" {
		t.Errorf("family defaulted to %q, want binance", venue.Family)
	}
	if venue.Reconnect.Enabled == nil || !*venue.Reconnect.Enabled {
		t.Error("reconnect should default to enabled")
	}
	if venue.Reconnect.Multiplier != 2.0 {
		t.Errorf("multiplier = %v, want 2.0", venue.Reconnect.Multiplier)
	}
}

func TestLoadConfigRejectsUnknownFamily(t *testing.T) {
	path := writeConfig(t, `
venues:
  mystery:
    family: nasdaq
    endpoint: wss://example.com
    enabled: true
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unknown family")
	}
}

func TestLoadConfigIgnoresDisabledVenues(t *testing.T) {
	path := writeConfig(t, `
venues:
  broken:
    family: nasdaq
    enabled: false
`)

	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("disabled venue should not be validated: %v", err)
	}
}

func TestLoadConfigRejectsBackoffInversion(t *testing.T) {
	path := writeConfig(t, `
venues:
  bybit:
    family: bybit
    endpoint: wss://stream.bybit.com/v5/public/linear
    enabled: true
    reconnect:
      initial_backoff: 1m
      max_backoff: 1s
`)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error when max_backoff < initial_backoff")
	}
}
