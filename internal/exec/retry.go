package exec

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"delta-grid-bot/internal/delta"
	"delta-grid-bot/internal/grid"
	"delta-grid-bot/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrRejected marks a 2xx response whose envelope reported success=false.
	ErrRejected = errors.New("broker rejected request")
	// ErrRetriesExhausted wraps the last failure once the retry budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// Budget is the retry allowance for one Attempt call.
type Budget struct {
	Remaining int
	Backoff   time.Duration
}

// marginKeywords are matched case-insensitively against the error text.
var marginKeywords = []string{
	"insufficient",
	"insufficient_margin",
	"no margin",
	"not enough margin",
	"margin is too low",
}

// badRequestText matches a standalone 400 so prices such as 50400 in the
// wrapped error text never count as a status code.
var badRequestText = regexp.MustCompile(`\b400\b`)

// IsInsufficientMargin reports whether err looks like a margin rejection, the
// only failure worth retrying. Broker errors are judged on their status and
// body alone.
func IsInsufficientMargin(err error) bool {
	if err == nil {
		return false
	}
	var brokerErr *delta.BrokerError
	if errors.As(err, &brokerErr) {
		body := strings.ToLower(brokerErr.Body)
		if hasMarginKeyword(body) {
			return true
		}
		return brokerErr.StatusCode == http.StatusBadRequest && mentionsMargin(body)
	}
	text := strings.ToLower(err.Error())
	if hasMarginKeyword(text) {
		return true
	}
	return badRequestText.MatchString(text) && mentionsMargin(text)
}

func hasMarginKeyword(text string) bool {
	for _, keyword := range marginKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}

func mentionsMargin(text string) bool {
	return strings.Contains(text, "margin") || strings.Contains(text, "insufficient")
}

type LegBroker interface {
	SetLeverage(ctx context.Context, productID int64, leverage int) (delta.Result, error)
	PlaceOrder(ctx context.Context, order delta.OrderRequest) (delta.Result, error)
}

// Retrier runs "set leverage, then place" as one unit and retries it on
// insufficient margin.
type Retrier struct {
	broker    LegBroker
	waiter    *Waiter
	productID int64
	symbol    string
	metrics   *metrics.Metrics
	log       *zap.Logger
	tx        *zap.Logger
}

func NewRetrier(broker LegBroker, waiter *Waiter, productID int64, symbol string, m *metrics.Metrics, log, tx *zap.Logger) *Retrier {
	if m == nil {
		m = metrics.NewNoop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if tx == nil {
		tx = zap.NewNop()
	}
	return &Retrier{
		broker:    broker,
		waiter:    waiter,
		productID: productID,
		symbol:    symbol,
		metrics:   m,
		log:       log,
		tx:        tx,
	}
}

func (r *Retrier) Attempt(ctx context.Context, order grid.Order, budget Budget) error {
	retried := 0
	for {
		err := r.once(ctx, order)
		if err == nil {
			return nil
		}
		if !IsInsufficientMargin(err) {
			return err
		}
		if budget.Remaining <= 0 {
			if retried == 0 {
				return err
			}
			r.metrics.RetriesExhausted.Inc()
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, retried+1, err)
		}
		r.log.Warn("insufficient margin, retrying",
			zap.Int("remaining", budget.Remaining-1),
			zap.String("price", order.LimitPrice.String()),
			zap.Int64("size", order.Size),
			zap.String("side", string(order.Side)),
			zap.Error(err),
		)
		r.metrics.MarginRetries.Inc()
		if err := sleep(ctx, budget.Backoff); err != nil {
			return err
		}
		if r.waiter != nil {
			r.waiter.Await(ctx, r.productID, Target{})
		}
		budget.Remaining--
		retried++
	}
}

func (r *Retrier) once(ctx context.Context, order grid.Order) error {
	res, err := r.broker.SetLeverage(ctx, r.productID, order.Leverage)
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, res.Describe())
	}
	if err != nil {
		r.metrics.LeverageFailed.Inc()
		return fmt.Errorf("set leverage %d: %w", order.Leverage, err)
	}
	r.tx.Info("leverage set", zap.Int64("product_id", r.productID), zap.Int("leverage", order.Leverage))

	res, err = r.broker.PlaceOrder(ctx, delta.OrderRequest{
		ProductID:  r.productID,
		Symbol:     r.symbol,
		LimitPrice: order.LimitPrice,
		Size:       order.Size,
		Side:       order.Side,
	})
	if err == nil && !res.Success {
		err = fmt.Errorf("%w: %s", ErrRejected, res.Describe())
	}
	if err != nil {
		return fmt.Errorf("place %s %d @ %s: %w", order.Side, order.Size, order.LimitPrice, err)
	}
	r.metrics.OrdersPlaced.Inc()
	r.tx.Info("order placed",
		zap.Int64("product_id", r.productID),
		zap.String("side", string(order.Side)),
		zap.Int64("size", order.Size),
		zap.String("limit_price", order.LimitPrice.String()),
		zap.Int("leverage", order.Leverage),
	)
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
