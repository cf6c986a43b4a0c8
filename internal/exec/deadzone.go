package exec

import (
	"context"
	"fmt"

	"delta-grid-bot/internal/delta"
	"delta-grid-bot/internal/grid"

	"go.uber.org/zap"
)

// DeadZone keeps the first resting order of the preserve size, cancels every
// other order, waits for the book to settle, and then places the opposite
// side of the preserved order. It returns the reversal order, or nil when
// there was nothing to preserve.
func (e *Executor) DeadZone(ctx context.Context) (*grid.Order, error) {
	opts := e.opts.DeadZone
	orders, err := e.broker.OpenOrders(ctx, e.opts.ProductID)
	if err != nil {
		return nil, fmt.Errorf("dead zone: list open orders: %w", err)
	}

	var preserved *delta.OpenOrder
	others := make([]delta.OpenOrder, 0, len(orders))
	for i := range orders {
		if preserved == nil && orders[i].Size == opts.PreserveSize {
			preserved = &orders[i]
			continue
		}
		others = append(others, orders[i])
	}
	if preserved == nil {
		e.log.Info("dead zone: no order to preserve", zap.Int64("preserve_size", opts.PreserveSize))
		return nil, nil
	}
	e.log.Info("dead zone: preserving order",
		zap.Int64("order_id", preserved.ID),
		zap.String("side", string(preserved.Side)),
		zap.String("limit_price", preserved.LimitPrice.String()),
		zap.Int("cancel", len(others)),
	)

	if len(others) > 0 {
		var report CycleReport
		e.cancelOrders(ctx, others, &tally{report: &report})
	}
	e.waiter.Await(ctx, e.opts.ProductID, Target{Preserve: true, PreserveID: preserved.ID})

	reversal := grid.Reversal(*preserved, opts.Offset, opts.Leverage)
	budget := Budget{Remaining: opts.Retries, Backoff: e.opts.Backoff}
	if err := e.retrier.Attempt(ctx, reversal, budget); err != nil {
		e.metrics.OrdersFailed.Inc()
		return nil, fmt.Errorf("dead zone: place reversal: %w", err)
	}
	e.metrics.DeadZoneReversals.Inc()
	e.log.Info("dead zone: reversal placed",
		zap.String("side", string(reversal.Side)),
		zap.String("limit_price", reversal.LimitPrice.String()),
		zap.Int64("size", reversal.Size),
	)
	return &reversal, nil
}
