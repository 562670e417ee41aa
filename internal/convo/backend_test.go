package convo

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func backendTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestBackend(t *testing.T, url string, maxRetries int) *Backend {
	t.Helper()
	b, err := NewBackend(BackendConfig{
		BaseURL:       url,
		Timeout:       2 * time.Second,
		MaxRetries:    maxRetries,
		MaxConcurrent: 4,
	}, backendTestLogger())
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	return b
}

func TestBackendExchangeStartsConversationOnce(t *testing.T) {
	var starts, messages atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/conversation/start":
			starts.Add(1)
			var req map[string]any
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("Bad start body: %v", err)
			}
			if req["languageHint"] != "en" {
				t.Errorf("Expected languageHint en, got %v", req["languageHint"])
			}
			json.NewEncoder(w).Encode(map[string]any{
				"conversationId":          "conv-1",
				"initialAssistantMessage": "Hello!",
			})
		case "/conversation/message":
			messages.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"reply": "Noted, thank you.",
				"actions": []map[string]any{
					{"type": "create_task", "payload": map[string]any{"notes": "follow up", "intent": "schedule_callback", "urgency": "medium"}},
				},
				"updatedSummary": "caller wants a callback",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL, 0)
	ctx := context.Background()

	reply, err := b.Exchange(ctx, Request{CallerText: "please call me back", Language: "en"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	if reply.ConversationID != "conv-1" {
		t.Errorf("Expected conversation id conv-1, got %q", reply.ConversationID)
	}
	// The start greeting is spoken ahead of the first reply.
	if reply.Text != "Hello! Noted, thank you." {
		t.Errorf("Unexpected first reply text %q", reply.Text)
	}
	if reply.Summary.Intent != IntentScheduleCallback {
		t.Errorf("Expected schedule_callback intent, got %q", reply.Summary.Intent)
	}
	if reply.Summary.Action != ActionCreateTask {
		t.Errorf("Expected create_task action, got %q", reply.Summary.Action)
	}

	// Second exchange reuses the conversation id, skips /start, and carries
	// no greeting.
	second, err := b.Exchange(ctx, Request{CallerText: "thanks", ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("Second exchange failed: %v", err)
	}
	if second.Text != "Noted, thank you." {
		t.Errorf("Later replies must not repeat the greeting, got %q", second.Text)
	}

	if starts.Load() != 1 {
		t.Errorf("Expected exactly 1 start call, got %d", starts.Load())
	}
	if messages.Load() != 2 {
		t.Errorf("Expected 2 message calls, got %d", messages.Load())
	}
}

func TestBackendNormalizesUnknownEnums(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"reply": "ok",
			"actions": []map[string]any{
				{"type": "launch_rocket", "payload": map[string]any{"intent": "world_peace", "urgency": "apocalyptic"}},
			},
			"updatedSummary": "odd backend",
		})
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL, 0)
	reply, err := b.Exchange(context.Background(), Request{CallerText: "hi", ConversationID: "conv-9"})
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}

	if reply.Summary.Intent != IntentOther {
		t.Errorf("Expected intent other, got %q", reply.Summary.Intent)
	}
	if reply.Summary.Urgency != UrgencyMedium {
		t.Errorf("Expected urgency medium, got %q", reply.Summary.Urgency)
	}
	if reply.Summary.Action != ActionNone {
		t.Errorf("Expected action none, got %q", reply.Summary.Action)
	}
	if reply.Summary.Notes != "odd backend" {
		t.Errorf("Expected notes from updatedSummary, got %q", reply.Summary.Notes)
	}
}

func TestBackendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"reply": "recovered"})
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL, 3)
	reply, err := b.Exchange(context.Background(), Request{CallerText: "hi", ConversationID: "conv-1"})
	if err != nil {
		t.Fatalf("Exchange should succeed after retries: %v", err)
	}
	if reply.Text != "recovered" {
		t.Errorf("Unexpected reply %q", reply.Text)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}

	stats := b.Stats()
	if stats.TotalRetries != 2 {
		t.Errorf("Expected 2 retries recorded, got %d", stats.TotalRetries)
	}
	if stats.SuccessRequests != 1 {
		t.Errorf("Expected 1 success recorded, got %d", stats.SuccessRequests)
	}
}

func TestBackendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL, 3)
	if _, err := b.Exchange(context.Background(), Request{CallerText: "hi", ConversationID: "conv-1"}); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("Client errors must not retry, got %d attempts", calls.Load())
	}
}

func TestBackendEmptyConversationIDRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"conversationId": "", "initialAssistantMessage": "hi"})
	}))
	defer srv.Close()

	b := newTestBackend(t, srv.URL, 0)
	if _, err := b.Exchange(context.Background(), Request{CallerText: "hi"}); err == nil {
		t.Fatal("Expected error for empty conversation id from backend")
	}
}
