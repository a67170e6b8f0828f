// Package events provides event types and publishing infrastructure for the
// mode engine. Events here are informational fan-out for infra consumers
// (journal, CLI, API stream); the coordinator's synchronous transition
// listeners are the correctness-bearing notification path.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventModeUnavailable indicates the engine entered the unavailable phase.
	EventModeUnavailable EventType = "mode_unavailable"
	// EventModeAvailable indicates the engine returned to the available phase.
	EventModeAvailable EventType = "mode_available"

	// EventTaskQueued indicates a work item was submitted.
	EventTaskQueued EventType = "task_queued"
	// EventTaskMerged indicates a submission was absorbed into a pending item.
	EventTaskMerged EventType = "task_merged"
	// EventTaskComplete indicates a work item ran to completion.
	EventTaskComplete EventType = "task_complete"
	// EventTaskFailed indicates a work item's run returned an error or panicked.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a work item was disposed without running.
	EventTaskCancelled EventType = "task_cancelled"
)

// Event represents a published event. Kind is the work-item kind for task
// events and empty for mode transitions.
type Event struct {
	Type EventType `json:"type"`
	Kind string    `json:"kind,omitempty"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, kind string, data any) Event {
	return Event{
		Type: eventType,
		Kind: kind,
		Data: data,
		Time: time.Now(),
	}
}

// ModeData carries the counter snapshot that accompanied a mode transition.
type ModeData struct {
	Outstanding int32  `json:"outstanding"`
	Version     uint64 `json:"version"`
}

// TaskData carries work-item outcome details.
type TaskData struct {
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}
