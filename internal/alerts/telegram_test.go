package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"delta-grid-bot/internal/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestTelegramSendDisabled(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: false}
	client := newTelegram(cfg, "BTCUSD", zap.NewNop(), "http://unused")
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected nil error when disabled, got %v", err)
	}
}

func TestTelegramSendMissingConfig(t *testing.T) {
	cfg := config.TelegramConfig{Enabled: true}
	client := newTelegram(cfg, "BTCUSD", zap.NewNop(), "http://unused")
	if err := client.Send(context.Background(), "hello"); err == nil {
		t.Fatalf("expected error for missing token/chat_id")
	}
}

func TestTelegramSendPostsMessage(t *testing.T) {
	var gotPath string
	var gotPayload map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, "BTCUSD", zap.NewNop(), server.URL)
	if err := client.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected send success, got %v", err)
	}
	if gotPath != "/bottoken/sendMessage" {
		t.Fatalf("expected path /bottoken/sendMessage, got %s", gotPath)
	}
	if gotPayload["chat_id"] != "123" {
		t.Fatalf("expected chat_id 123, got %q", gotPayload["chat_id"])
	}
	if gotPayload["text"] != "[BTCUSD] hello" {
		t.Fatalf("expected prefixed text, got %q", gotPayload["text"])
	}
}

func TestTelegramSendReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"description":"chat not found"}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, "", zap.NewNop(), server.URL)
	err := client.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestTelegramSendReportsHTTPStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`unauthorized`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, "", zap.NewNop(), server.URL)
	err := client.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "http 401") {
		t.Fatalf("expected http status error, got %v", err)
	}
}

func TestEventMessages(t *testing.T) {
	if got := CycleDispatched("abc", decimal.RequireFromString("50000.75"), 1); got != "cycle abc: position size 1 at entry 50000" {
		t.Fatalf("unexpected cycle message %q", got)
	}
	if got := DeadZoneReversal("sell", decimal.NewFromInt(50750), 2); got != "dead zone: placed sell 2 @ 50750" {
		t.Fatalf("unexpected dead zone message %q", got)
	}
	if got := DeadZoneFailed(errors.New("boom")); !strings.Contains(got, "boom") {
		t.Fatalf("unexpected failure message %q", got)
	}
	if got := CycleFailures("abc", 3, 7); got != "cycle abc: 3 broker calls failed (7 orders placed)" {
		t.Fatalf("unexpected failures message %q", got)
	}
}

func TestTelegramGetUpdates(t *testing.T) {
	var gotOffset, gotTimeout string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/getUpdates" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		gotOffset = r.URL.Query().Get("offset")
		gotTimeout = r.URL.Query().Get("timeout")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":42,"message":{"text":"/status","chat":{"id":123},"from":{"id":7,"username":"ops"}}}]}`))
	}))
	defer server.Close()

	cfg := config.TelegramConfig{Enabled: true, Token: "token", ChatID: "123"}
	client := newTelegram(cfg, "", zap.NewNop(), server.URL)
	updates, err := client.GetUpdates(context.Background(), 41, 2*time.Second)
	if err != nil {
		t.Fatalf("get updates: %v", err)
	}
	if gotOffset != "41" || gotTimeout != "2" {
		t.Fatalf("unexpected query offset=%s timeout=%s", gotOffset, gotTimeout)
	}
	if len(updates) != 1 || updates[0].UpdateID != 42 || updates[0].Message.Text != "/status" {
		t.Fatalf("unexpected updates %+v", updates)
	}
	if updates[0].Message.From.Username != "ops" || updates[0].Message.Chat.ID != 123 {
		t.Fatalf("unexpected message metadata %+v", updates[0].Message)
	}
}
