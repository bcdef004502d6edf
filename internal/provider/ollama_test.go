package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"relaybot/internal/domain"
)

func TestOllama_Complete(t *testing.T) {
	var gotReq ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ollamaResponse{
			Message: ollamaMsg{Role: "assistant", Content: "local reply"},
			Done:    true,
		})
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Model: "llama3.1:8b", Logger: testLogger()})
	text, err := o.Complete(context.Background(), domain.ReplyRequest{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "local reply" {
		t.Fatalf("expected 'local reply', got %q", text)
	}
	if gotReq.Stream {
		t.Error("stream must be false")
	}
	if gotReq.Model != "llama3.1:8b" {
		t.Errorf("unexpected model %q", gotReq.Model)
	}
}

func TestOllama_ClientErrorNotRetried(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := o.Complete(context.Background(), domain.ReplyRequest{Text: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	var berr *domain.BackendError
	if !errors.As(err, &berr) || berr.Backend != "ollama" {
		t.Fatalf("expected ollama BackendError, got %v", err)
	}
	if calls != 1 {
		t.Errorf("4xx must not be retried, got %d calls", calls)
	}
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models": []}`))
	}))
	defer srv.Close()

	o := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	if err := o.Healthy(context.Background()); err != nil {
		t.Errorf("expected healthy, got %v", err)
	}
}
