package app

import (
	"time"

	"delta-grid-bot/internal/delta"
	"delta-grid-bot/internal/exec"
	"delta-grid-bot/internal/timescale"
)

// Poll outcomes as journaled.
const (
	outcomePollFailed = "poll_failed"
	outcomeEmpty      = "empty"
	outcomeNoEntry    = "no_entry"
	outcomeDeadZone   = "dead_zone"
	outcomePaused     = "paused"
	outcomeUnchanged  = "unchanged"
	outcomeDispatched = "dispatched"
)

const (
	cycleKindGrid     = "grid"
	cycleKindDeadZone = "dead_zone"
)

func (a *App) recordPoll(pos *delta.Position, outcome string) {
	if a.journal == nil {
		return
	}
	poll := timescale.PositionPoll{
		Time:      time.Now().UTC(),
		ProductID: a.cfg.Delta.ProductID,
		Outcome:   outcome,
	}
	if pos != nil {
		poll.Size = pos.Size
		poll.EntryPrice = pos.EntryPrice
		poll.HasEntry = pos.HasEntry
	}
	a.journal.EnqueuePoll(poll)
}

func (a *App) recordCycle(id, kind string, report exec.CycleReport) {
	if a.journal == nil {
		return
	}
	a.journal.EnqueueCycle(timescale.Cycle{
		ID:          id,
		Kind:        kind,
		Started:     report.Started.UTC(),
		Finished:    report.Finished.UTC(),
		ProductID:   a.cfg.Delta.ProductID,
		Size:        report.Size,
		EntryPrice:  report.Entry,
		Cancelled:   report.Cancelled,
		Placed:      report.Placed,
		Failed:      report.Failed,
		Edited:      report.Edited,
		MarginAdded: report.MarginAdded,
	})
}
