package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookSend(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewWebhookSender().Send(context.Background(), srv.URL, Outcome{
		BackupID: 7,
		Type:     "auto",
		Success:  true,
		Size:     2048,
		Duration: 1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if got.BackupID != 7 || got.Type != "auto" || !got.Success {
		t.Errorf("payload = %+v", got)
	}
	if got.SizeBytes != 2048 || got.DurationSeconds != 1.5 {
		t.Errorf("payload = %+v", got)
	}
	if got.Timestamp == "" {
		t.Error("timestamp missing")
	}
}

func TestWebhookRetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := NewWebhookSender().Send(context.Background(), srv.URL, Outcome{BackupID: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestWebhookGivesUpOnCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewWebhookSender().Send(ctx, srv.URL, Outcome{BackupID: 1}); err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestEmailSendBackupReport(t *testing.T) {
	var got postmarkEmail
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/email" {
			t.Errorf("path = %q", r.URL.Path)
		}
		token = r.Header.Get("X-Postmark-Server-Token")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewEmailClient("pm-token", "noreply@nightrift.gg", WithBaseURL(srv.URL))
	err := client.SendBackupReport("ops@nightrift.gg", Outcome{
		BackupID: 12,
		Type:     "manual",
		Success:  false,
		Duration: 3 * time.Second,
		Error:    "disk full",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if token != "pm-token" {
		t.Errorf("server token = %q", token)
	}
	if got.From != "noreply@nightrift.gg" || got.To != "ops@nightrift.gg" {
		t.Errorf("envelope = %+v", got)
	}
	if got.Subject != "Backup #12 failed" {
		t.Errorf("subject = %q", got.Subject)
	}
}

func TestEmailRequiresToken(t *testing.T) {
	client := NewEmailClient("", "noreply@nightrift.gg")
	if client.Configured() {
		t.Error("empty token reported as configured")
	}
	if err := client.SendBackupReport("ops@nightrift.gg", Outcome{}); err == nil {
		t.Error("expected error from unconfigured client")
	}
}

func TestServiceSwallowsDeliveryFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	email := NewEmailClient("pm-token", "noreply@nightrift.gg", WithBaseURL(srv.URL))
	svc := NewService(email, nil, discardLogger())

	// Must not panic or propagate anything.
	svc.BackupOutcome(context.Background(), Outcome{
		BackupID: 3,
		Email:    "ops@nightrift.gg",
	})
}

func TestServiceSkipsEmptyTargets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no delivery expected for empty targets")
	}))
	defer srv.Close()

	email := NewEmailClient("pm-token", "noreply@nightrift.gg", WithBaseURL(srv.URL))
	svc := NewService(email, NewWebhookSender(), discardLogger())
	svc.BackupOutcome(context.Background(), Outcome{BackupID: 4})
}
