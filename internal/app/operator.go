package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"delta-grid-bot/internal/alerts"

	"go.uber.org/zap"
)

const (
	operatorOffsetKey      = "telegram:operator:last_update_id"
	operatorAuditPrefix    = "ops:audit:"
	defaultOperatorBackoff = 3 * time.Second
)

type operatorClient interface {
	GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]alerts.Update, error)
	Send(ctx context.Context, message string) error
}

// operatorScope decides whose messages count as commands: the configured
// chat, and within it the allow-listed users when there are any.
type operatorScope struct {
	chatID  int64
	allowed map[int64]struct{}
}

func newOperatorScope(chatID int64, userIDs []int64) operatorScope {
	allowed := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		allowed[id] = struct{}{}
	}
	return operatorScope{chatID: chatID, allowed: allowed}
}

func (s operatorScope) admits(msg *alerts.Message) (bool, string) {
	if msg == nil || msg.Chat == nil || msg.From == nil || msg.Chat.ID != s.chatID {
		return false, ""
	}
	if len(s.allowed) == 0 {
		return true, ""
	}
	if _, ok := s.allowed[msg.From.ID]; !ok {
		return false, "operator command from unknown user"
	}
	return true, ""
}

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

// pauseToggle is one of the two commands that flip the paused flag.
type pauseToggle struct {
	paused    bool
	changed   string
	unchanged string
}

var pauseToggles = map[string]pauseToggle{
	"pause":  {paused: true, changed: "trading paused", unchanged: "trading already paused"},
	"resume": {paused: false, changed: "trading resumed", unchanged: "trading already active"},
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.operator == nil || !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	wait := a.cfg.Telegram.OperatorPollInterval
	if wait <= 0 {
		wait = defaultOperatorBackoff
	}
	scope := newOperatorScope(chatID, a.cfg.Telegram.OperatorAllowedUserIDs)
	a.log.Info("telegram operator started", zap.Int("allowed_users", len(scope.allowed)))
	a.async(func() { a.operatorLoop(ctx, scope, wait) })
}

func (a *App) operatorLoop(ctx context.Context, scope operatorScope, wait time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for ctx.Err() == nil {
		next, err := a.pollOperator(ctx, scope, offset, wait)
		if err == nil {
			offset = next
			continue
		}
		if ctx.Err() != nil {
			return
		}
		a.logOperatorError(err)
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// pollOperator handles one getUpdates batch and returns the offset to ask
// for next. The offset is stored before each command runs so a crash never
// replays it.
func (a *App) pollOperator(ctx context.Context, scope operatorScope, offset int64, wait time.Duration) (int64, error) {
	updates, err := a.operator.GetUpdates(ctx, offset, wait)
	if err != nil {
		return offset, err
	}
	if a.operatorWarned {
		a.operatorWarned = false
		a.log.Info("telegram operator recovered")
	}
	for _, upd := range updates {
		if upd.UpdateID >= offset {
			offset = upd.UpdateID + 1
			a.saveOperatorOffset(ctx, offset)
		}
		ok, reason := scope.admits(upd.Message)
		if !ok {
			if reason != "" {
				a.log.Warn(reason, zap.Int64("user_id", upd.Message.From.ID))
			}
			continue
		}
		a.runOperatorCommand(ctx, upd)
	}
	return offset, nil
}

func (a *App) runOperatorCommand(ctx context.Context, upd alerts.Update) {
	msg := upd.Message
	cmd, _, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	reply := a.handleOperatorCommand(ctx, cmd, operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	})
	if reply == "" {
		return
	}
	if err := a.operator.Send(ctx, reply); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

// parseOperatorCommand accepts "/cmd args" and "/cmd@botname args".
func parseOperatorCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	cmd, _, _ := strings.Cut(strings.ToLower(fields[0][1:]), "@")
	if cmd == "" {
		return "", nil, false
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, meta operatorMeta) string {
	if cmd == "status" {
		return a.operatorStatus(ctx)
	}
	toggle, ok := pauseToggles[cmd]
	if !ok {
		return operatorHelpText()
	}
	before := a.setPaused(toggle.paused)
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       cmd,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: before,
		PausedAfter:  toggle.paused,
	})
	if before == toggle.paused {
		return toggle.unchanged
	}
	a.log.Warn("operator changed trading state", zap.String("action", cmd), zap.Int64("user_id", meta.UserID))
	return toggle.changed
}

func (a *App) operatorStatus(ctx context.Context) string {
	snap := a.guard.Snapshot()
	position := "unavailable"
	if pos, err := a.broker.Position(ctx, a.cfg.Delta.ProductID); err == nil && pos != nil {
		entry := "none"
		if pos.HasEntry {
			entry = pos.EntryPrice.String()
		}
		position = fmt.Sprintf("%d @ %s", pos.Size, entry)
	}
	updated := "never"
	if snap.UpdatedAtMS > 0 {
		updated = time.UnixMilli(snap.UpdatedAtMS).UTC().Format(time.RFC3339)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "product: %s (%d)\n", a.cfg.Delta.Symbol, a.cfg.Delta.ProductID)
	fmt.Fprintf(&b, "paused: %t\n", a.isPaused())
	fmt.Fprintf(&b, "position: %s\n", position)
	fmt.Fprintf(&b, "last_order_size: %d\n", snap.LastOrderSize)
	fmt.Fprintf(&b, "dead_zone_enabled: %t\n", a.cfg.DeadZone.Enabled)
	fmt.Fprintf(&b, "dead_zone_order_placed: %t\n", snap.DeadZoneOrderPlaced)
	fmt.Fprintf(&b, "state_updated: %s", updated)
	return b.String()
}

func operatorHelpText() string {
	return "commands:\n" +
		"/status - position and execution state\n" +
		"/pause - stop placing orders\n" +
		"/resume - resume placing orders"
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

// setPaused stores paused and returns the previous value.
func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	before := a.paused
	a.paused = paused
	return before
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("operator offset persist failed", zap.Error(err))
	}
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%d:%d", operatorAuditPrefix, event.Time.UnixNano(), event.UpdateID)
	if err := a.store.Set(ctx, key, string(payload)); err != nil {
		a.log.Warn("operator audit persist failed", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
