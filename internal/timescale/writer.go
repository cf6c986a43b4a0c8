package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"delta-grid-bot/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// PositionPoll is one tick of the poll loop and what the guard decided.
type PositionPoll struct {
	Time       time.Time
	ProductID  int64
	Size       int64
	EntryPrice decimal.Decimal
	HasEntry   bool
	Outcome    string
}

// Cycle is the journal row for one executed cycle or dead zone reversal.
type Cycle struct {
	ID          string
	Kind        string
	Started     time.Time
	Finished    time.Time
	ProductID   int64
	Size        int64
	EntryPrice  decimal.Decimal
	Cancelled   int
	Placed      int
	Failed      int
	Edited      int
	MarginAdded bool
}

// Writer journals polls and cycles asynchronously. Enqueue never blocks; a
// full queue drops the row and warns once.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	polls      chan PositionPoll
	cycles     chan Cycle
	started    atomic.Bool
	done       chan struct{}
	dropPolls  atomic.Uint64
	dropCycles atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		polls:  make(chan PositionPoll, queueSize),
		cycles: make(chan Cycle, queueSize),
		done:   make(chan struct{}),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

// Close waits for the run loop, which stops with the Start context, then
// closes the database.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	if w.started.Load() {
		<-w.done
	}
	if w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueuePoll(poll PositionPoll) {
	if w == nil {
		return
	}
	select {
	case w.polls <- poll:
	default:
		if w.dropPolls.Add(1) == 1 {
			w.log.Warn("timescale poll queue full")
		}
	}
}

func (w *Writer) EnqueueCycle(cycle Cycle) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- cycle:
	default:
		if w.dropCycles.Add(1) == 1 {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case poll := <-w.polls:
			w.writePoll(ctx, poll)
		case cycle := <-w.cycles:
			w.writeCycle(ctx, cycle)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		product_id BIGINT NOT NULL,
		size BIGINT NOT NULL,
		entry_price NUMERIC,
		outcome TEXT NOT NULL
	)`, w.table("position_polls"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		product_id BIGINT NOT NULL,
		size BIGINT NOT NULL,
		entry_price NUMERIC,
		cancelled INTEGER NOT NULL,
		placed INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		edited INTEGER NOT NULL,
		margin_added BOOLEAN NOT NULL,
		PRIMARY KEY (ts, cycle_id)
	)`, w.table("execution_cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"position_polls", "execution_cycles"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writePoll(ctx context.Context, poll PositionPoll) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (ts, product_id, size, entry_price, outcome) VALUES ($1,$2,$3,$4,$5)`,
		w.table("position_polls"))
	if _, err := w.db.ExecContext(ctx, query,
		poll.Time,
		poll.ProductID,
		poll.Size,
		nullablePrice(poll.EntryPrice, poll.HasEntry),
		poll.Outcome,
	); err != nil {
		w.log.Warn("timescale poll insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCycle(ctx context.Context, cycle Cycle) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, kind, finished_at, product_id, size, entry_price,
		cancelled, placed, failed, edited, margin_added
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
	)
	ON CONFLICT (ts, cycle_id) DO NOTHING`, w.table("execution_cycles"))
	if _, err := w.db.ExecContext(ctx, query,
		cycle.Started,
		cycle.ID,
		cycle.Kind,
		cycle.Finished,
		cycle.ProductID,
		cycle.Size,
		nullablePrice(cycle.EntryPrice, !cycle.EntryPrice.IsZero()),
		cycle.Cancelled,
		cycle.Placed,
		cycle.Failed,
		cycle.Edited,
		cycle.MarginAdded,
	); err != nil {
		w.log.Warn("timescale cycle insert failed", zap.String("cycle_id", cycle.ID), zap.Error(err))
	}
}

func nullablePrice(price decimal.Decimal, ok bool) sql.NullString {
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: price.String(), Valid: true}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
