package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/wifiwarden/internal/config"
)

func TestWebhookNotifier_Delivers(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL})
	if err := n.NotifyTransition(context.Background(), "client", "ap", "failover"); err != nil {
		t.Fatalf("NotifyTransition() error = %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}

	var payload transitionPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EventType != "mode_transition" {
		t.Errorf("EventType = %q, want mode_transition", payload.EventType)
	}
	if payload.From != "client" || payload.To != "ap" {
		t.Errorf("transition = %s->%s, want client->ap", payload.From, payload.To)
	}
	if payload.Cause != "failover" {
		t.Errorf("Cause = %q, want failover", payload.Cause)
	}
	if payload.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

func TestWebhookNotifier_SignsPayload(t *testing.T) {
	const secret = "test-secret"
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL, WebhookSecret: secret})
	if err := n.NotifyTransition(context.Background(), "ap", "client", "credentials"); err != nil {
		t.Fatalf("NotifyTransition() error = %v", err)
	}

	if gotSig == "" {
		t.Fatal("X-Signature header missing")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("X-Signature = %q, want %q", gotSig, want)
	}
}

func TestWebhookNotifier_NoSignatureWithoutSecret(t *testing.T) {
	var sigPresent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sigPresent = r.Header["X-Signature"]
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL})
	if err := n.NotifyTransition(context.Background(), "ap", "client", "credentials"); err != nil {
		t.Fatalf("NotifyTransition() error = %v", err)
	}
	if sigPresent {
		t.Error("X-Signature present without a configured secret")
	}
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(config.NotifyConfig{WebhookURL: srv.URL})
	if err := n.NotifyTransition(context.Background(), "ap", "client", "credentials"); err == nil {
		t.Fatal("NotifyTransition() error = nil, want error on 500")
	}
}

func TestNew_ReturnsNopWithoutURL(t *testing.T) {
	n := New(config.NotifyConfig{})
	if _, ok := n.(NopNotifier); !ok {
		t.Fatalf("New() without URL = %T, want NopNotifier", n)
	}
	if err := n.NotifyTransition(context.Background(), "a", "b", "c"); err != nil {
		t.Errorf("NopNotifier.NotifyTransition() error = %v", err)
	}
}
