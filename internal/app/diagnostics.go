package app

import (
	"context"
	"encoding/json"

	"eventsched/internal/eventbus"
	"eventsched/internal/storage"
	"eventsched/pkg/logx"
	"eventsched/pkg/scheduler"
)

func compensationEventType(s scheduler.Stage) string {
	switch s {
	case scheduler.StageRegistered:
		return eventbus.TypeCompensationRegistered
	case scheduler.StageStarted:
		return eventbus.TypeCompensationStarted
	case scheduler.StageCompleted:
		return eventbus.TypeCompensationCompleted
	default:
		return eventbus.TypeCompensationFailed
	}
}

// publishCompensation is the client's compensation hook. It must not block.
func (a *App) publishCompensation(_ context.Context, r scheduler.CompensationReport) {
	a.bus.Publish(eventbus.Event{Type: compensationEventType(r.Stage), Time: r.At, Data: r})
}

func recordFromReport(r scheduler.CompensationReport) storage.Record {
	rec := storage.Record{
		At:     r.At,
		TxID:   r.TxID,
		Op:     string(r.Op),
		Slug:   r.Slug,
		Key:    r.Key,
		Stage:  string(r.Stage),
		Policy: r.Policy.String(),
		TookMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	// The snapshot is only needed once per compensation.
	if r.Stage == scheduler.StageRegistered {
		if b, err := json.Marshal(r.Prior); err == nil {
			rec.Prior = b
		}
	}
	return rec
}

// journalLoop appends compensation reports from the bus until ctx is
// canceled, then flushes what is still buffered.
func (a *App) journalLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.flushJournal(ctx)
			return nil
		case e, ok := <-a.events:
			if !ok {
				return nil
			}
			a.appendEvent(ctx, e)
		}
	}
}

func (a *App) flushJournal(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for {
		select {
		case e, ok := <-a.events:
			if !ok {
				return
			}
			a.appendEvent(ctx, e)
		default:
			return
		}
	}
}

func (a *App) appendEvent(ctx context.Context, e eventbus.Event) {
	r, ok := e.Data.(scheduler.CompensationReport)
	if !ok {
		return
	}
	if err := a.journal.Append(ctx, recordFromReport(r)); err != nil {
		a.log.Warn("journal append failed", logx.String("type", e.Type), logx.String("slug", r.Slug), logx.Err(err))
	}
}
