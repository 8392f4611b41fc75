package notify

import "time"

// Event describes one finished task attempt.
type Event struct {
	TaskID   string
	TaskName string
	TaskType string
	Status   string
	Started  time.Time
	Duration time.Duration
	Rows     int64
	Err      error
}

// Provider defines the notification contract for task events.
type Provider interface {
	// TaskCompleted is sent when an attempt succeeds.
	TaskCompleted(ev Event) error

	// TaskFailed is sent when an attempt fails or is cancelled.
	TaskFailed(ev Event) error
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
