package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"delta-grid-bot/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

type Telegram struct {
	enabled bool
	token   string
	chatID  string
	prefix  string
	client  *resty.Client
	log     *zap.Logger
}

func NewTelegram(cfg config.TelegramConfig, symbol string, log *zap.Logger) *Telegram {
	return newTelegram(cfg, symbol, log, telegramBaseURL)
}

func newTelegram(cfg config.TelegramConfig, symbol string, log *zap.Logger, baseURL string) *Telegram {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(10 * time.Second)
	prefix := ""
	if s := strings.TrimSpace(symbol); s != "" {
		prefix = "[" + s + "] "
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		prefix:  prefix,
		client:  client,
		log:     log,
	}
}

type sendResult struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.enabled {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("telegram message is empty")
	}
	var result sendResult
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"chat_id": t.chatID,
			"text":    t.prefix + message,
		}).
		SetResult(&result).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > 2048 {
			body = body[:2048]
		}
		return fmt.Errorf("telegram send failed: http %d: %s", resp.StatusCode(), strings.TrimSpace(body))
	}
	if !result.OK {
		desc := strings.TrimSpace(result.Description)
		if desc == "" {
			desc = "unknown telegram error"
		}
		return fmt.Errorf("telegram send failed: %s", desc)
	}
	return nil
}

// Notify sends message and logs a failure instead of returning it.
func (t *Telegram) Notify(ctx context.Context, message string) {
	if err := t.Send(ctx, message); err != nil {
		t.log.Warn("telegram alert failed", zap.Error(err))
	}
}
