package model

import "time"

// LifecycleEventKind tags the union described in §3 / §4.7.
type LifecycleEventKind string

const (
	EventStateChanged    LifecycleEventKind = "state-changed"
	EventPrintStarted    LifecycleEventKind = "print-started"
	EventPrintCompleted  LifecycleEventKind = "print-completed"
	EventPrintCancelled  LifecycleEventKind = "print-cancelled"
	EventPrintError      LifecycleEventKind = "print-error"
)

// LifecycleEvent is produced only by a Print State Monitor (§3 Ownership).
type LifecycleEvent struct {
	Kind          LifecycleEventKind
	ContextID     string
	JobName       string
	PreviousState PrinterState
	CurrentState  PrinterState
	Status        *PrinterStatus
	Timestamp     time.Time
}

// Topic names used on the shared engine.Bus. Every component that
// publishes or subscribes to these refers to the same constants so a typo
// can't silently create a second, disconnected topic.
const (
	TopicContextCreated   = "context-created"
	TopicContextRemoved   = "context-removed"
	TopicContextSwitched  = "context-switched"
	TopicConnected        = "connected"
	TopicDisconnected     = "disconnected"
	TopicPreDisconnect    = "pre-disconnect"
	TopicPollingData      = "polling-data"
	TopicDataUpdated      = "data-updated"
	TopicStatusUpdated    = "status-updated"
	TopicJobUpdated       = "job-updated"
	TopicPollingError     = "polling-error"
	TopicPollingStopped   = "polling-stopped"
	TopicStateChanged     = "state-changed"
	TopicPrintStarted     = "print-started"
	TopicPrintCompleted   = "print-completed"
	TopicPrintCancelled   = "print-cancelled"
	TopicPrintError       = "print-error"
	TopicTemperatureCheck = "temperature-checked"
	TopicPrinterCooled    = "printer-cooled"
	TopicUsageUpdated      = "usage-updated"
	TopicUsageUpdateFailed = "usage-update-failed"
	TopicQueueCompleted   = "queue-completed"
	TopicItemProcessed    = "item-processed"
)

// ContextSwitchedEvent carries the payload for TopicContextSwitched.
type ContextSwitchedEvent struct {
	ContextID         string
	PreviousContextID string
	Info              ContextInfo
}

// ContextRemovedEvent carries the payload for TopicContextRemoved.
type ContextRemovedEvent struct {
	ContextID string
	WasActive bool
}

// PollingDataEvent carries the payload for TopicPollingData / TopicDataUpdated.
type PollingDataEvent struct {
	ContextID string
	Snapshot  PollingSnapshot
}

// StatusUpdatedEvent carries the payload for TopicStatusUpdated. Every
// context's Polling Coordinator loop publishes onto the same shared
// topic, so the per-context Print State Monitor and Temperature Monitor
// instances filter on ContextID rather than each owning a private topic.
type StatusUpdatedEvent struct {
	ContextID string
	Status    PrinterStatus
}

// JobUpdatedEvent carries the payload for TopicJobUpdated.
type JobUpdatedEvent struct {
	ContextID string
	Job       CurrentJob
}

// UsageUpdatedEvent carries the payload for TopicUsageUpdated, published
// after the external filament-inventory collaborator accepts a usage
// update (§4.9 step 7).
type UsageUpdatedEvent struct {
	ContextID string
	SpoolID   int64
	Spool     Spool
}

// UsageUpdateFailedEvent carries the payload for TopicUsageUpdateFailed.
type UsageUpdateFailedEvent struct {
	ContextID string
	SpoolID   int64
	Error     error
}

// QueueCompletedEvent carries the payload for TopicQueueCompleted, emitted
// once the Thumbnail Queue drains (§4.10 step 3).
type QueueCompletedEvent struct {
	Stats ThumbnailStats
}

// ItemProcessedEvent carries the payload for TopicItemProcessed, emitted
// after every per-item processing attempt regardless of outcome.
type ItemProcessedEvent struct {
	FileName  string
	ProcessMs int64
	QueueSize int
}

// PollingErrorEvent carries the payload for TopicPollingError.
type PollingErrorEvent struct {
	ContextID  string
	Error      error
	RetryCount int
	WillRetry  bool
}
