package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"readyline/internal/config"
)

func TestPostDeliversPayloadAndHeaders(t *testing.T) {
	var gotEvent, gotSecret, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Readyline-Event")
		gotSecret = r.Header.Get("X-Readyline-Secret")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL, Secret: "hook-secret"})
	notice := SubmissionNotice{RequestID: "req-1", Email: "owner@acme.test"}
	if err := n.Post(context.Background(), "request.submitted", notice); err != nil {
		t.Fatalf("post: %v", err)
	}
	if gotEvent != "request.submitted" || gotSecret != "hook-secret" || gotType != "application/json" {
		t.Fatalf("unexpected headers event=%q secret=%q type=%q", gotEvent, gotSecret, gotType)
	}
	var decoded map[string]any
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded["requestId"] != "req-1" {
		t.Fatalf("unexpected body %s", string(gotBody))
	}
	if _, ok := decoded["userId"]; !ok {
		t.Fatalf("userId should be present (null) in body %s", string(gotBody))
	}
}

func TestPostReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{URL: srv.URL})
	err := n.Post(context.Background(), "request.completed", DeliveryNotice{RequestID: "req-1"})
	if err == nil {
		t.Fatalf("expected error for 503")
	}
}

func TestUnconfiguredNotifierIsNoop(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{})
	if n.Configured() {
		t.Fatalf("empty hook should not be configured")
	}
	if err := n.Post(context.Background(), "request.submitted", nil); err != nil {
		t.Fatalf("noop post: %v", err)
	}

	disabled := false
	n = New(config.WebhookConfig{URL: srv.URL, Enabled: &disabled})
	if n.Configured() {
		t.Fatalf("disabled hook should not be configured")
	}
	if err := n.Post(context.Background(), "request.submitted", nil); err != nil {
		t.Fatalf("disabled post: %v", err)
	}
	if called {
		t.Fatalf("no request should have been made")
	}
}
