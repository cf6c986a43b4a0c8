package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	CyclesStarted      Counter
	OrdersCancelled    Counter
	OrdersPlaced       Counter
	OrdersFailed       Counter
	OrdersEdited       Counter
	LeverageFailed     Counter
	MarginRetries      Counter
	RetriesExhausted   Counter
	PositionPollFailed Counter
	DeadZoneReversals  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesStarted:      n,
		OrdersCancelled:    n,
		OrdersPlaced:       n,
		OrdersFailed:       n,
		OrdersEdited:       n,
		LeverageFailed:     n,
		MarginRetries:      n,
		RetriesExhausted:   n,
		PositionPollFailed: n,
		DeadZoneReversals:  n,
	}
}
