package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"relaybot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureBus records published messages for assertions.
type captureBus struct {
	msgs []domain.InboundMessage
}

func (b *captureBus) Publish(msg domain.InboundMessage)       { b.msgs = append(b.msgs, msg) }
func (b *captureBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (b *captureBus) Close()                                  {}

func newTestHandler(appSecret string) (*Handler, *captureBus) {
	bus := &captureBus{}
	h := NewHandler(HandlerConfig{
		VerifyToken: "tok",
		AppSecret:   appSecret,
		Bus:         bus,
		Logger:      testLogger(),
	})
	return h, bus
}

func TestHandler_VerificationSuccess(t *testing.T) {
	h, _ := newTestHandler("")
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=tok&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "42" {
		t.Fatalf("expected challenge echoed, got %q", body)
	}
}

func TestHandler_VerificationBadToken(t *testing.T) {
	h, _ := newTestHandler("")
	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "42") {
		t.Fatal("challenge must not leak on mismatch")
	}
}

func TestHandler_PostPublishesAndAcks(t *testing.T) {
	h, bus := newTestHandler("")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(whatsAppTextPayload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "EVENT_RECEIVED" {
		t.Fatalf("expected EVENT_RECEIVED, got %q", body)
	}
	if len(bus.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bus.msgs))
	}

	msg := bus.msgs[0]
	if msg.ReceivedAt.IsZero() {
		t.Error("handler must stamp ReceivedAt")
	}
	if time.Since(msg.ReceivedAt) > time.Minute {
		t.Error("ReceivedAt not recent")
	}
	if msg.Routing[domain.RouteRequestID] == "" {
		t.Error("handler must attach a request id")
	}
}

func TestHandler_PostBadJSON(t *testing.T) {
	h, bus := newTestHandler("")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(bus.msgs) != 0 {
		t.Fatal("nothing should be published")
	}
}

func TestHandler_PostUnknownObject(t *testing.T) {
	h, _ := newTestHandler("")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"object":"instagram","entry":[{}]}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_PostStatusOnlyStillAcked(t *testing.T) {
	// A parseable payload with nothing to relay must still get 200 so
	// the platform does not re-deliver it.
	payload := `{
	  "object": "whatsapp_business_account",
	  "entry": [{"changes": [{"field": "messages", "value": {
	    "metadata": {"phone_number_id": "999"},
	    "statuses": [{"id": "wamid.1", "status": "delivered"}]
	  }}]}]
	}`
	h, bus := newTestHandler("")
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "EVENT_RECEIVED" {
		t.Fatalf("expected EVENT_RECEIVED, got %q", body)
	}
	if len(bus.msgs) != 0 {
		t.Fatalf("expected nothing published, got %d", len(bus.msgs))
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler("")
	req := httptest.NewRequest(http.MethodDelete, "/webhook", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandler_SignatureValid(t *testing.T) {
	secret := "app-secret"
	h, bus := newTestHandler(secret)

	mac := hmac.New(sha256.New, []byte(secret))
	io.WriteString(mac, whatsAppTextPayload)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(whatsAppTextPayload))
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(bus.msgs) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bus.msgs))
	}
}

func TestHandler_SignatureInvalid(t *testing.T) {
	h, bus := newTestHandler("app-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(whatsAppTextPayload))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if len(bus.msgs) != 0 {
		t.Fatal("nothing should be published on bad signature")
	}
}

func TestHandler_SignatureMissing(t *testing.T) {
	h, _ := newTestHandler("app-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(whatsAppTextPayload))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"content":"hello"}`)
	secret := "s3cret"

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !verifySignature(body, secret, sig) {
		t.Error("valid signature should verify")
	}
	if verifySignature(body, secret, "sha256=00") {
		t.Error("wrong signature should not verify")
	}
	if verifySignature(body, secret, "") {
		t.Error("empty signature should not verify")
	}
	if verifySignature(body, secret, "md5=abc") {
		t.Error("wrong scheme should not verify")
	}
}
