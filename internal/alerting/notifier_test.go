package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func testNotification() Notification {
	return Notification{
		RunAt:          time.Now(),
		CurrentBG:      decimal.NewFromInt(110),
		PredictedMinBG: decimal.NewFromInt(62),
		MinutesToMin:   85,
		EndingBG:       decimal.NewFromInt(75),
		ThresholdBG:    decimal.NewFromInt(70),
		Channels:       []string{"telegram"},
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("wrong chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "62 mg/dL in 85 min") {
		t.Fatalf("message should describe the predicted low, got %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("ok=false should return an error")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("HTTP 502 should return an error")
	}
}

func TestRenderMessageIncludesDose(t *testing.T) {
	note := testNotification()
	note.SuggestedDose = decimal.NewFromFloat(0.55)
	note.PatternApplied = true

	text := renderMessage(note)
	if !strings.Contains(text, "0.55 U") {
		t.Fatalf("message should include the suggested dose, got %q", text)
	}
	if !strings.Contains(text, "Night pattern: applied") {
		t.Fatalf("message should note the applied pattern, got %q", text)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
