package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "delta_grid_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
}

type counterDef struct {
	name string
	help string
	set  func(m *Metrics, c Counter)
}

var counterDefs = []counterDef{
	{"cycles_started_total", "Total number of execution cycles dispatched.", func(m *Metrics, c Counter) { m.CyclesStarted = c }},
	{"orders_cancelled_total", "Total number of orders cancelled.", func(m *Metrics, c Counter) { m.OrdersCancelled = c }},
	{"orders_placed_total", "Total number of orders placed.", func(m *Metrics, c Counter) { m.OrdersPlaced = c }},
	{"orders_failed_total", "Total number of failed broker mutations.", func(m *Metrics, c Counter) { m.OrdersFailed = c }},
	{"orders_edited_total", "Total number of orders edited.", func(m *Metrics, c Counter) { m.OrdersEdited = c }},
	{"leverage_failed_total", "Total number of rejected leverage changes.", func(m *Metrics, c Counter) { m.LeverageFailed = c }},
	{"margin_retries_total", "Total number of retries after an insufficient margin rejection.", func(m *Metrics, c Counter) { m.MarginRetries = c }},
	{"retries_exhausted_total", "Total number of legs that ran out of retries.", func(m *Metrics, c Counter) { m.RetriesExhausted = c }},
	{"position_poll_failed_total", "Total number of failed position polls.", func(m *Metrics, c Counter) { m.PositionPollFailed = c }},
	{"dead_zone_reversals_total", "Total number of dead zone reversal orders placed.", func(m *Metrics, c Counter) { m.DeadZoneReversals = c }},
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	m := NewNoop()
	counters := make(map[string]prometheus.Counter, len(counterDefs))
	for _, def := range counterDefs {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      def.name,
			Help:      def.help,
		})
		registry.MustRegister(counter)
		counters[def.name] = counter
		def.set(m, promCounter{counter})
	}
	return &Prometheus{
		Metrics:  m,
		registry: registry,
		counters: counters,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
