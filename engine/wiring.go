package engine

import (
	"context"
	"time"
)

// mirrorTimeout bounds the Redis write that follows each batch.
const mirrorTimeout = 5 * time.Second

func (e *Engine) wireEventHandlers() {
	// Mirror the device's online set after every committed batch
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(BatchReconciledEvent)
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		e.tagState.ApplyBatch(ctx, ev.DeviceID, ev.Observed, ev.Lost, ev.EventTime)
		if len(ev.Lost) > 0 {
			e.logFn("engine: device %d lost %d tag(s): %v", ev.DeviceID, len(ev.Lost), ev.Lost)
		}
	}, EventBatchReconciled)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(TagEventRecordedEvent)
		e.metrics.EventRecorded(ev.Kind)
		e.logFn("engine: event %d (%s) recorded for tag %d", ev.EventID, ev.Kind, ev.TagID)
	}, EventTagEventRecorded)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(CommandQueuedEvent)
		e.logFn("engine: queued %s for %s (outbox %d)", ev.Command, ev.DeviceUID, ev.OutboxID)
	}, EventCommandQueued)

	// A status flip changes which tags reconcile can take offline, so the
	// device mirror is rebuilt from SQL on its next read.
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(TagStatusChangedEvent)
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		e.tagState.Invalidate(ctx, ev.DeviceID)
		e.logFn("engine: tag %d active=%t, device %d mirror dropped", ev.TagID, ev.IsActive, ev.DeviceID)
	}, EventTagStatusChanged)
}
