package webhook

import (
	"net/http"
	"testing"
)

func TestVerifier_Accepts(t *testing.T) {
	v := NewVerifier("my-token")
	body, status := v.Check("subscribe", "my-token", "challenge-1234")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body != "challenge-1234" {
		t.Fatalf("expected challenge echoed verbatim, got %q", body)
	}
}

func TestVerifier_RejectsWrongToken(t *testing.T) {
	v := NewVerifier("my-token")
	body, status := v.Check("subscribe", "other-token", "challenge-1234")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if body == "challenge-1234" {
		t.Fatal("challenge must not be echoed on token mismatch")
	}
}

func TestVerifier_RejectsWrongMode(t *testing.T) {
	v := NewVerifier("my-token")
	_, status := v.Check("unsubscribe", "my-token", "challenge-1234")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestVerifier_MissingParams(t *testing.T) {
	v := NewVerifier("my-token")
	if _, status := v.Check("", "my-token", "c"); status != http.StatusBadRequest {
		t.Errorf("missing mode: expected 400, got %d", status)
	}
	if _, status := v.Check("subscribe", "", "c"); status != http.StatusBadRequest {
		t.Errorf("missing token: expected 400, got %d", status)
	}
}

func TestVerifier_EmptyChallengeStillEchoes(t *testing.T) {
	v := NewVerifier("my-token")
	body, status := v.Check("subscribe", "my-token", "")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body != "" {
		t.Fatalf("expected empty echo, got %q", body)
	}
}
