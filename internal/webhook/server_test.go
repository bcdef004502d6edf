package webhook

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, metricsEndpoint string) *httptest.Server {
	t.Helper()
	h, _ := newTestHandler("")
	s := NewServer(ServerConfig{
		Path:            "/webhook",
		MetricsEndpoint: metricsEndpoint,
		Handler:         h,
		Logger:          testLogger(),
	})
	srv := httptest.NewServer(s.srv.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestServer_HealthEndpoint(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("expected 'ok', got %q", body)
	}
}

func TestServer_WebhookMounted(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Post(srv.URL+"/webhook", "application/json", strings.NewReader(whatsAppTextPayload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "EVENT_RECEIVED" {
		t.Errorf("expected EVENT_RECEIVED, got %q", body)
	}
}

func TestServer_MetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, "/metrics")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "relaybot_uptime_seconds") {
		t.Error("metrics output missing uptime")
	}
}

func TestServer_MetricsDisabled(t *testing.T) {
	srv := newTestServer(t, "")

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
