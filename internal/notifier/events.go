package notifier

import "pivotflow/internal/model"

// Event types published on the event bus.
const (
	EventQueued       = "notification.queued"
	EventCommitted    = "notification.committed"
	EventSoundFailed  = "notification.sound_failed"
	EventSystemFailed = "notification.system_failed"
	EventPruned       = "notification.pruned"
)

type QueuedEvent struct {
	Title    string         `json:"title"`
	Category model.Category `json:"category"`
	QueueLen int            `json:"queue_len"`
}

type CommittedEvent struct {
	Notification model.Notification `json:"notification"`
}

type FailureEvent struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type PrunedEvent struct {
	Removed int `json:"removed"`
}
