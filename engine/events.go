package engine

import "time"

const (
	EventBatchReconciled EventType = iota + 1
	EventTagEventRecorded
	EventCommandQueued
	EventTagStatusChanged
)

// --- Event payloads ---

type BatchReconciledEvent struct {
	DeviceID  int64
	Observed  []int64
	Lost      []int64
	EventTime time.Time
}

type TagEventRecordedEvent struct {
	EventID int64
	TagID   int64
	Kind    string
	Code    int
}

type CommandQueuedEvent struct {
	OutboxID  int64
	Command   string
	DeviceUID string
}

type TagStatusChangedEvent struct {
	TagID    int64
	DeviceID int64
	IsActive bool
}
