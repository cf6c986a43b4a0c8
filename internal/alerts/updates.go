package alerts

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	Text string `json:"text"`
	Chat *Chat  `json:"chat"`
	From *User  `json:"from"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type updatesResult struct {
	OK          bool     `json:"ok"`
	Description string   `json:"description"`
	Result      []Update `json:"result"`
}

// GetUpdates long-polls the bot API for operator messages newer than offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	seconds := int(wait / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	var result updatesResult
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParam("offset", strconv.FormatInt(offset, 10)).
		SetQueryParam("timeout", strconv.Itoa(seconds)).
		SetResult(&result).
		Get("/bot" + t.token + "/getUpdates")
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("telegram getUpdates failed: http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram getUpdates failed: %s", result.Description)
	}
	return result.Result, nil
}
