package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"delta-grid-bot/internal/alerts"
	"delta-grid-bot/internal/config"
	"delta-grid-bot/internal/delta"
	"delta-grid-bot/internal/delta/ws"
	"delta-grid-bot/internal/exec"
	"delta-grid-bot/internal/logging"
	"delta-grid-bot/internal/metrics"
	"delta-grid-bot/internal/state"
	"delta-grid-bot/internal/state/sqlite"
	"delta-grid-bot/internal/timescale"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Broker is everything the bot needs from the exchange.
type Broker interface {
	exec.Broker
	Position(ctx context.Context, productID int64) (*delta.Position, error)
}

type Notifier interface {
	Notify(ctx context.Context, message string)
}

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    state.Store
	broker   Broker
	executor *exec.Executor
	guard    *state.Execution
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	operator operatorClient
	notifier Notifier
	journal  *timescale.Writer
	stream   *ws.Client
	nudges   chan struct{}
	closers  []func() error
	newID    func() string

	cycleMu  sync.Mutex
	inflight sync.WaitGroup

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	signer, err := delta.NewSigner(cfg.Delta.APIKey, cfg.Delta.APISecret)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	client, err := delta.NewClient(cfg.REST.BaseURL, cfg.REST.Timeout, signer, log.Named("delta"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	journal, err := timescale.New(cfg.Timescale, log.Named("timescale"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	tx, closeTx := logging.NewTransactions(cfg.Log)
	prom := metrics.NewPrometheus()
	telegram := alerts.NewTelegram(cfg.Telegram, cfg.Delta.Symbol, log.Named("alerts"))

	a := newApp(cfg, log, client, store, prom.Metrics, tx)
	a.prom = prom
	a.operator = telegram
	a.notifier = telegram
	a.journal = journal
	if cfg.Stream.Enabled {
		a.stream = ws.New(cfg.Stream.URL, signer, []string{cfg.Delta.Symbol}, cfg.Stream.ReconnectDelay, cfg.Stream.PingInterval, log.Named("ws"))
	}
	a.closers = append(a.closers, closeTx, journal.Close)
	return a, nil
}

func newApp(cfg *config.Config, log *zap.Logger, broker Broker, store state.Store, m *metrics.Metrics, tx *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	waiter := exec.NewWaiter(broker, cfg.Settle.PollInterval, cfg.Settle.MaxAttempts, log.Named("settle"))
	retries := 0
	if cfg.DeadZone.Retries != nil {
		retries = *cfg.DeadZone.Retries
	}
	executor := exec.New(broker, waiter, exec.Options{
		ProductID:     cfg.Delta.ProductID,
		Symbol:        cfg.Delta.Symbol,
		SerializeLegs: cfg.Grid.SerializeLegs,
		LegRetries:    cfg.Grid.LegRetries,
		Backoff:       cfg.Retry.Backoff,
		DeadZone: exec.DeadZoneOptions{
			PreserveSize: cfg.DeadZone.PreserveSize,
			Offset:       decimal.NewFromInt(cfg.DeadZone.Offset),
			Leverage:     cfg.DeadZone.Leverage,
			Retries:      retries,
		},
	}, m, log.Named("exec"), tx)
	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		broker:   broker,
		executor: executor,
		guard:    state.NewExecution(state.Snapshot{}),
		metrics:  m,
		newID:    uuid.NewString,
		nudges:   make(chan struct{}, 1),
	}
}

// Run polls the position until ctx is done. Ticks and cycles run on their own
// goroutines so a slow cycle never delays the next poll; on shutdown they see
// the cancelled context and are drained before the store closes.
func (a *App) Run(ctx context.Context) error {
	defer a.close()
	if a.cfg.State.RestoreOnStart {
		a.restoreGuard(ctx)
	}
	if a.prom != nil && a.cfg.Metrics.IsEnabled() {
		addr, err := a.prom.Serve(ctx, a.cfg.Metrics.Address, a.cfg.Metrics.Path, func(err error) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		})
		if err != nil {
			return err
		}
		a.log.Info("metrics listening", zap.String("address", addr.String()), zap.String("path", a.cfg.Metrics.Path))
	}
	a.journal.Start(ctx)
	a.startOperator(ctx)
	a.startStream(ctx)

	a.log.Info("bot started",
		zap.Int64("product_id", a.cfg.Delta.ProductID),
		zap.String("symbol", a.cfg.Delta.Symbol),
		zap.Duration("poll_interval", a.cfg.Bot.PollInterval),
		zap.Bool("dead_zone", a.cfg.DeadZone.Enabled),
	)
	ticker := time.NewTicker(a.cfg.Bot.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.inflight.Wait()
			return ctx.Err()
		case <-ticker.C:
			a.async(func() { a.tick(ctx) })
		case <-a.nudges:
			a.async(func() { a.tick(ctx) })
		}
	}
}

func (a *App) tick(ctx context.Context) {
	productID := a.cfg.Delta.ProductID
	pos, err := a.broker.Position(ctx, productID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		a.metrics.PositionPollFailed.Inc()
		a.log.Warn("position poll failed", zap.Error(err))
		a.recordPoll(nil, outcomePollFailed)
		return
	}
	if pos == nil {
		a.log.Info("position result empty, waiting for next tick")
		a.recordPoll(nil, outcomeEmpty)
		return
	}
	// A pause holds both the grid and the dead zone reversal.
	if a.isPaused() {
		a.log.Info("trading paused, skipping tick", zap.Int64("size", pos.Size), zap.Bool("has_entry", pos.HasEntry))
		a.recordPoll(pos, outcomePaused)
		return
	}
	if !pos.HasEntry {
		a.handleNoEntry(ctx, pos)
		return
	}
	if a.guard.ClearDeadZone() {
		a.persistGuard(ctx)
	}
	last := a.guard.Snapshot().LastOrderSize
	if !a.guard.Observe(pos.Size) {
		a.log.Info("orders already placed for size", zap.Int64("size", pos.Size))
		a.recordPoll(pos, outcomeUnchanged)
		return
	}
	a.persistGuard(ctx)
	a.recordPoll(pos, outcomeDispatched)
	a.log.Info("position size changed",
		zap.Int64("last_size", last),
		zap.Int64("size", pos.Size),
		zap.String("entry", pos.EntryPrice.String()),
	)
	a.dispatch(ctx, pos.EntryPrice.Truncate(0), pos.Size)
}

func (a *App) dispatch(ctx context.Context, entry decimal.Decimal, size int64) {
	id := a.newID()
	a.metrics.CyclesStarted.Inc()
	a.log.Info("cycle dispatched", zap.String("cycle_id", id), zap.Int64("size", size), zap.String("entry", entry.String()))
	a.notify(ctx, alerts.CycleDispatched(id, entry, size))
	a.async(func() {
		if a.cfg.Bot.SerializeCycles {
			a.cycleMu.Lock()
			defer a.cycleMu.Unlock()
		}
		report := a.executor.Execute(ctx, entry, size)
		a.recordCycle(id, cycleKindGrid, report)
		a.log.Info("cycle report",
			zap.String("cycle_id", id),
			zap.Int("cancelled", report.Cancelled),
			zap.Int("placed", report.Placed),
			zap.Int("failed", report.Failed),
			zap.Int("edited", report.Edited),
			zap.Bool("margin_added", report.MarginAdded),
		)
		if report.Failed > 0 {
			a.notify(ctx, alerts.CycleFailures(id, report.Failed, report.Placed))
		}
	})
}

func (a *App) handleNoEntry(ctx context.Context, pos *delta.Position) {
	if !a.cfg.DeadZone.Enabled {
		a.log.Info("no entry price, waiting for next tick", zap.Int64("size", pos.Size))
		a.recordPoll(pos, outcomeNoEntry)
		return
	}
	claimed := a.guard.EnterDeadZone()
	a.persistGuard(ctx)
	if !claimed {
		a.log.Info("no entry price, dead zone orders already placed")
		a.recordPoll(pos, outcomeNoEntry)
		return
	}
	a.recordPoll(pos, outcomeDeadZone)
	id := a.newID()
	a.log.Info("no entry price, running dead zone reversal", zap.String("cycle_id", id))
	a.async(func() {
		if a.cfg.Bot.SerializeCycles {
			a.cycleMu.Lock()
			defer a.cycleMu.Unlock()
		}
		started := time.Now()
		reversal, err := a.executor.DeadZone(ctx)
		report := exec.CycleReport{Started: started, Finished: time.Now()}
		if err != nil {
			// Let the next tick without an entry price try again.
			a.guard.ReleaseDeadZone()
			a.persistGuard(ctx)
			a.log.Error("dead zone reversal failed", zap.String("cycle_id", id), zap.Error(err))
			a.notify(ctx, alerts.DeadZoneFailed(err))
			report.Failed = 1
			a.recordCycle(id, cycleKindDeadZone, report)
			return
		}
		if reversal == nil {
			a.recordCycle(id, cycleKindDeadZone, report)
			return
		}
		report.Placed = 1
		report.Size = reversal.Size
		a.recordCycle(id, cycleKindDeadZone, report)
		a.notify(ctx, alerts.DeadZoneReversal(string(reversal.Side), reversal.LimitPrice, reversal.Size))
	})
}

func (a *App) startStream(ctx context.Context) {
	if a.stream == nil {
		return
	}
	a.async(func() {
		err := a.stream.Run(ctx, func(msg ws.Message) {
			if ws.IsPositionUpdate(msg) {
				a.nudge()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("position stream stopped", zap.Error(err))
		}
	})
}

// nudge asks Run for an extra tick. Pending nudges coalesce.
func (a *App) nudge() {
	select {
	case a.nudges <- struct{}{}:
	default:
	}
}

func (a *App) async(fn func()) {
	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		fn()
	}()
}

func (a *App) notify(ctx context.Context, message string) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(ctx, message)
}

func (a *App) restoreGuard(ctx context.Context) {
	snap, ok, err := state.LoadExecution(ctx, a.store)
	if err != nil {
		a.log.Warn("execution state restore failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	a.guard = state.NewExecution(snap)
	a.log.Info("execution state restored",
		zap.Int64("last_order_size", snap.LastOrderSize),
		zap.Bool("dead_zone_order_placed", snap.DeadZoneOrderPlaced),
	)
}

func (a *App) persistGuard(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := state.SaveExecution(ctx, a.store, a.guard.Snapshot()); err != nil {
		a.log.Warn("execution state persist failed", zap.Error(err))
	}
}

func (a *App) close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("state store close failed", zap.Error(err))
		}
	}
}
