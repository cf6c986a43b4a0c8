package ws

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"delta-grid-bot/internal/delta"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const DefaultURL = "wss://socket.india.delta.exchange"

// authPath is the path signed for websocket authentication.
const authPath = "/live"

// Message is the common header of every socket frame.
type Message struct {
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

var errNotConnected = errors.New("ws not connected")

// Client holds an authenticated socket subscribed to the positions channel
// and replays auth and subscriptions after every reconnect.
type Client struct {
	url            string
	signer         *delta.Signer
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *zap.Logger
	now            func() time.Time

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(url string, signer *delta.Signer, symbols []string, reconnectDelay, pingInterval time.Duration, log *zap.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		url:            url,
		signer:         signer,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            log,
		now:            time.Now,
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// Run reads frames until ctx is done, reconnecting after read failures.
// handler runs on the read goroutine.
func (c *Client) Run(ctx context.Context, handler func(Message)) error {
	defer c.resetConn()
	for {
		if err := c.ensureConnected(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("ws connect failed", zap.Error(err))
			c.resetConn()
			if !c.wait(ctx) {
				return ctx.Err()
			}
			continue
		}
		pingCtx, cancel := context.WithCancel(ctx)
		pingDone := make(chan struct{})
		go func() {
			defer close(pingDone)
			c.pingLoop(pingCtx)
		}()
		err := c.readLoop(ctx, handler)
		cancel()
		<-pingDone
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logReadLoopError(err)
		c.resetConn()
		if !c.wait(ctx) {
			return ctx.Err()
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if c.signer != nil {
		if err := writeJSON(ctx, conn, c.authMessage()); err != nil {
			return err
		}
	}
	return writeJSON(ctx, conn, subscribeMessage(c.symbols))
}

func (c *Client) authMessage() map[string]any {
	ts := c.now().Unix()
	return map[string]any{
		"type": "auth",
		"payload": map[string]string{
			"api-key":   c.signer.APIKey(),
			"signature": c.signer.Sign("GET", ts, authPath, ""),
			"timestamp": strconv.FormatInt(ts, 10),
		},
	}
}

func subscribeMessage(symbols []string) map[string]any {
	return map[string]any{
		"type": "subscribe",
		"payload": map[string]any{
			"channels": []map[string]any{{"name": "positions", "symbols": symbols}},
		},
	}
}

func (c *Client) readLoop(ctx context.Context, handler func(Message)) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNotConnected
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("ws frame not json", zap.ByteString("frame", data))
			continue
		}
		msg.Raw = json.RawMessage(data)
		if handler != nil {
			handler(msg)
		}
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	c.mu.Lock()
	conn := c.conn
	interval := c.pingInterval
	c.mu.Unlock()
	if conn == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writeJSON(ctx, conn, pingMessage); err != nil {
				return
			}
		}
	}
}

func (c *Client) wait(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.reconnectDelay):
		return true
	}
}

func (c *Client) logReadLoopError(err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			c.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
	}
	c.log.Warn("ws read loop ended", zap.Error(err))
}

func (c *Client) resetConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reset")
		c.conn = nil
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

var pingMessage = map[string]any{"type": "ping"}

// IsPositionUpdate reports whether msg is a positions channel event.
func IsPositionUpdate(msg Message) bool {
	return msg.Type == "positions"
}
