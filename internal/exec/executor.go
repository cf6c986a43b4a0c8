package exec

import (
	"context"
	"sync"
	"time"

	"delta-grid-bot/internal/delta"
	"delta-grid-bot/internal/grid"
	"delta-grid-bot/internal/metrics"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Broker interface {
	OrderLister
	LegBroker
	CancelOrder(ctx context.Context, productID, orderID int64) (delta.Result, error)
	EditOrder(ctx context.Context, edit delta.EditRequest) (delta.Result, error)
	AddMargin(ctx context.Context, productID int64, amount string) (delta.Result, error)
}

type Options struct {
	ProductID     int64
	Symbol        string
	SerializeLegs bool
	LegRetries    int
	Backoff       time.Duration
	DeadZone      DeadZoneOptions
}

type DeadZoneOptions struct {
	PreserveSize int64
	Offset       decimal.Decimal
	Leverage     int
	Retries      int
}

// CycleReport is the outcome of one Execute call.
type CycleReport struct {
	Entry       decimal.Decimal
	Size        int64
	Cancelled   int
	Placed      int
	Failed      int
	Edited      int
	MarginAdded bool
	Started     time.Time
	Finished    time.Time
}

type Executor struct {
	broker  Broker
	waiter  *Waiter
	retrier *Retrier
	opts    Options
	metrics *metrics.Metrics
	log     *zap.Logger
	tx      *zap.Logger
}

func New(broker Broker, waiter *Waiter, opts Options, m *metrics.Metrics, log, tx *zap.Logger) *Executor {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if tx == nil {
		tx = zap.NewNop()
	}
	if waiter == nil {
		waiter = NewWaiter(broker, 0, 0, log)
	}
	return &Executor{
		broker:  broker,
		waiter:  waiter,
		retrier: NewRetrier(broker, waiter, opts.ProductID, opts.Symbol, m, log, tx),
		opts:    opts,
		metrics: m,
		log:     log,
		tx:      tx,
	}
}

// tally collects counts from concurrent broker calls within a cycle.
type tally struct {
	mu     sync.Mutex
	report *CycleReport
}

func (t *tally) add(fn func(r *CycleReport)) {
	t.mu.Lock()
	fn(t.report)
	t.mu.Unlock()
}

// Execute runs one cycle for a newly observed position size. Cancellation of
// resting orders completes before any leg is sent; legs and edits then run
// concurrently. Failures are logged and counted, never returned.
func (e *Executor) Execute(ctx context.Context, entry decimal.Decimal, size int64) CycleReport {
	report := CycleReport{Entry: entry, Size: size, Started: time.Now()}
	t := &tally{report: &report}
	absSize := abs(size)

	if absSize == 1 {
		e.cancelAll(ctx, t)
	}
	if orders := grid.Plan(entry, size); len(orders) > 0 {
		e.placeLegs(ctx, orders, t)
	}
	if absSize >= 2 {
		e.editExisting(ctx, size, t)
	}

	report.Finished = time.Now()
	e.log.Info("cycle finished",
		zap.Int64("size", size),
		zap.String("entry", entry.String()),
		zap.Int("cancelled", report.Cancelled),
		zap.Int("placed", report.Placed),
		zap.Int("failed", report.Failed),
		zap.Int("edited", report.Edited),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	return report
}

func (e *Executor) cancelAll(ctx context.Context, t *tally) {
	orders, err := e.broker.OpenOrders(ctx, e.opts.ProductID)
	if err != nil {
		e.log.Error("list open orders before cancel failed", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		e.log.Info("no open orders to cancel")
		return
	}
	e.cancelOrders(ctx, orders, t)
}

func (e *Executor) cancelOrders(ctx context.Context, orders []delta.OpenOrder, t *tally) {
	var wg sync.WaitGroup
	for _, order := range orders {
		wg.Add(1)
		go func(order delta.OpenOrder) {
			defer wg.Done()
			if e.cancelOne(ctx, order) {
				t.add(func(r *CycleReport) { r.Cancelled++ })
			} else {
				t.add(func(r *CycleReport) { r.Failed++ })
			}
		}(order)
	}
	wg.Wait()
}

func (e *Executor) cancelOne(ctx context.Context, order delta.OpenOrder) bool {
	res, err := e.broker.CancelOrder(ctx, e.opts.ProductID, order.ID)
	if err == nil && !res.Success {
		e.log.Warn("cancel rejected", zap.Int64("order_id", order.ID), zap.String("error", res.Describe()))
		e.metrics.OrdersFailed.Inc()
		return false
	}
	if err != nil {
		e.log.Error("cancel failed", zap.Int64("order_id", order.ID), zap.Error(err))
		e.metrics.OrdersFailed.Inc()
		return false
	}
	e.metrics.OrdersCancelled.Inc()
	e.tx.Info("order cancelled",
		zap.Int64("product_id", e.opts.ProductID),
		zap.Int64("order_id", order.ID),
		zap.String("side", string(order.Side)),
		zap.Int64("size", order.Size),
	)
	return true
}

func (e *Executor) placeLegs(ctx context.Context, orders []grid.Order, t *tally) {
	budget := Budget{Remaining: e.opts.LegRetries, Backoff: e.opts.Backoff}
	run := func(order grid.Order) {
		if err := e.retrier.Attempt(ctx, order, budget); err != nil {
			e.metrics.OrdersFailed.Inc()
			e.log.Error("leg failed",
				zap.String("side", string(order.Side)),
				zap.Int64("size", order.Size),
				zap.String("limit_price", order.LimitPrice.String()),
				zap.Int("leverage", order.Leverage),
				zap.Error(err),
			)
			t.add(func(r *CycleReport) { r.Failed++ })
			return
		}
		t.add(func(r *CycleReport) { r.Placed++ })
	}
	if e.opts.SerializeLegs {
		for _, order := range orders {
			run(order)
		}
		return
	}
	var wg sync.WaitGroup
	for _, order := range orders {
		wg.Add(1)
		go func(order grid.Order) {
			defer wg.Done()
			run(order)
		}(order)
	}
	wg.Wait()
}

func (e *Executor) editExisting(ctx context.Context, size int64, t *tally) {
	absSize := abs(size)
	var wg sync.WaitGroup
	if absSize >= grid.MarginThreshold {
		if amount, ok := grid.MarginTopUp(absSize); ok {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if e.addMargin(ctx, amount) {
					t.add(func(r *CycleReport) { r.MarginAdded = true })
				}
			}()
		} else {
			e.log.Info("no margin tier for size", zap.Int64("size", size))
		}
	}

	orders, err := e.broker.OpenOrders(ctx, e.opts.ProductID)
	if err != nil {
		e.log.Error("list open orders before edit failed", zap.Error(err))
		wg.Wait()
		return
	}
	side := grid.EditSide(size)
	for _, order := range orders {
		if order.Side != side {
			continue
		}
		wg.Add(1)
		go func(order delta.OpenOrder) {
			defer wg.Done()
			if e.editOne(ctx, order, size) {
				t.add(func(r *CycleReport) { r.Edited++ })
			} else {
				t.add(func(r *CycleReport) { r.Failed++ })
			}
		}(order)
	}
	wg.Wait()
}

func (e *Executor) editOne(ctx context.Context, order delta.OpenOrder, size int64) bool {
	price, newSize := grid.EditTarget(order, size)
	res, err := e.broker.EditOrder(ctx, delta.EditRequest{
		ID:         order.ID,
		ProductID:  e.opts.ProductID,
		LimitPrice: price,
		Size:       newSize,
	})
	if err == nil && !res.Success {
		e.log.Warn("edit rejected", zap.Int64("order_id", order.ID), zap.String("error", res.Describe()))
		e.metrics.OrdersFailed.Inc()
		return false
	}
	if err != nil {
		e.log.Error("edit failed", zap.Int64("order_id", order.ID), zap.Error(err))
		e.metrics.OrdersFailed.Inc()
		return false
	}
	e.metrics.OrdersEdited.Inc()
	e.tx.Info("order edited",
		zap.Int64("product_id", e.opts.ProductID),
		zap.Int64("order_id", order.ID),
		zap.String("side", string(order.Side)),
		zap.String("old_price", order.LimitPrice.String()),
		zap.String("new_price", price.String()),
		zap.Int64("new_size", newSize),
	)
	return true
}

// addMargin failures are logged only; editing goes ahead regardless.
func (e *Executor) addMargin(ctx context.Context, amount string) bool {
	res, err := e.broker.AddMargin(ctx, e.opts.ProductID, amount)
	if err == nil && !res.Success {
		e.log.Warn("add margin rejected", zap.String("amount", amount), zap.String("error", res.Describe()))
		return false
	}
	if err != nil {
		e.log.Error("add margin failed", zap.String("amount", amount), zap.Error(err))
		return false
	}
	e.tx.Info("margin added", zap.Int64("product_id", e.opts.ProductID), zap.String("amount", amount))
	return true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
