package exec

import (
	"context"
	"time"

	"delta-grid-bot/internal/delta"

	"go.uber.org/zap"
)

const (
	defaultSettleInterval = 500 * time.Millisecond
	defaultSettleAttempts = 12
)

type OrderLister interface {
	OpenOrders(ctx context.Context, productID int64) ([]delta.OpenOrder, error)
}

// Target describes the open-order set a caller waits for: none at all, or
// only the preserved order.
type Target struct {
	Preserve   bool
	PreserveID int64
}

func (t Target) met(orders []delta.OpenOrder) bool {
	if !t.Preserve {
		return len(orders) == 0
	}
	for _, order := range orders {
		if order.ID != t.PreserveID {
			return false
		}
	}
	return true
}

// Waiter polls open orders at a fixed interval until a Target holds.
type Waiter struct {
	orders   OrderLister
	interval time.Duration
	attempts int
	log      *zap.Logger
}

func NewWaiter(orders OrderLister, interval time.Duration, attempts int, log *zap.Logger) *Waiter {
	if interval <= 0 {
		interval = defaultSettleInterval
	}
	if attempts <= 0 {
		attempts = defaultSettleAttempts
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Waiter{orders: orders, interval: interval, attempts: attempts, log: log}
}

// Await reports whether target was observed within the attempt budget. The
// first poll is immediate. A failed fetch counts as an attempt where the
// target was not met. Callers proceed either way.
func (w *Waiter) Await(ctx context.Context, productID int64, target Target) bool {
	for attempt := 1; attempt <= w.attempts; attempt++ {
		orders, err := w.orders.OpenOrders(ctx, productID)
		if err != nil {
			w.log.Warn("open orders poll failed", zap.Int("attempt", attempt), zap.Error(err))
		} else if target.met(orders) {
			w.log.Debug("orders settled", zap.Int("attempt", attempt), zap.Int("open", len(orders)))
			return true
		}
		if attempt == w.attempts {
			break
		}
		timer := time.NewTimer(w.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
	w.log.Warn("timed out waiting for orders to settle",
		zap.Int64("product_id", productID),
		zap.Bool("preserve", target.Preserve),
		zap.Int64("preserve_id", target.PreserveID),
	)
	return false
}
