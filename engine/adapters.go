package engine

import "time"

// presenceEmitter bridges the presence package's emitter interface to the EventBus.
type presenceEmitter struct {
	bus *EventBus
}

func (e *presenceEmitter) EmitBatchReconciled(deviceID int64, observed, lost []int64, at time.Time) {
	e.bus.Emit(Event{Type: EventBatchReconciled, Payload: BatchReconciledEvent{
		DeviceID:  deviceID,
		Observed:  observed,
		Lost:      lost,
		EventTime: at,
	}})
}

// cascadeEmitter bridges recorded tag events to the EventBus.
type cascadeEmitter struct {
	bus *EventBus
}

func (e *cascadeEmitter) EmitEventRecorded(eventID, tagID int64, kind string, code int) {
	e.bus.Emit(Event{Type: EventTagEventRecorded, Payload: TagEventRecordedEvent{
		EventID: eventID,
		TagID:   tagID,
		Kind:    kind,
		Code:    code,
	}})
}
