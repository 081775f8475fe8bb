package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketmux/config"
	"marketmux/internal/cache"
	"marketmux/internal/event"
	"marketmux/internal/mux"
	"marketmux/logger"
)

func TestNormalizeAddress(t *testing.T) {
	cases := map[string]string{
		"":                           "0.0.0.0:8080",
		"  :9090  ":                  "0.0.0.0:9090",
		"localhost":                  "localhost:8080",
		"0.0.0.0:80":                 "0.0.0.0:80",
		"[::1]:443":                  "[::1]:443",
		"::1":                        "[::1]:8080",
		"*:8080":                     "0.0.0.0:8080",
		"http://13.200.112.203:8080": "13.200.112.203:8080",
		"http://:7070":               "0.0.0.0:7070",
		"tcp://localhost:5050":       "localhost:5050",
	}

	for input, want := range cases {
		if got := normalizeAddress(input); got != want {
			t.Fatalf("normalizeAddress(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestNewServerDisabled(t *testing.T) {
	srv, err := NewServer(config.DashboardConfig{Enabled: false}, logger.Logger(), nil)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv != nil {
		t.Fatal("expected nil server when disabled")
	}
	if srv.Address() != "" {
		t.Fatal("nil server must report empty address")
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	mgr := mux.New(cfg, event.NewBus(logger.GetLogger()), cache.New(), nil)

	srv, err := NewServer(config.DashboardConfig{Enabled: true, Address: ":9000"}, logger.Logger(), mgr)
	if err != nil {
		t.Fatalf("NewServer returned error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected dashboard server")
	}
	t.Cleanup(srv.logStore.close)
	return srv
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter failed: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Manager struct {
			Connections int `json:"connections"`
		} `json:"manager"`
		Totals map[string]float64 `json:"totals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Manager.Connections != 0 {
		t.Fatalf("expected zero connections, got %d", body.Manager.Connections)
	}
	if _, ok := body.Totals["MessagesIn"]; !ok {
		t.Fatal("expected totals in response")
	}
}

func TestLogsEndpointCapturesRecords(t *testing.T) {
	srv := newTestServer(t)
	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter failed: %v", err)
	}

	srv.log.WithComponent("test").Info("hello from the dashboard test")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/logs", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Logs []struct {
			Component string `json:"component"`
			Message   string `json:"message"`
		} `json:"logs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}

	found := false
	for _, l := range body.Logs {
		if l.Component == "test" && l.Message == "hello from the dashboard test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected captured record, got %+v", body.Logs)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	router, err := srv.buildRouter()
	if err != nil {
		t.Fatalf("buildRouter failed: %v", err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
