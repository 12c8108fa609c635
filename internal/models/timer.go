package models

import "time"

// TimerStatus is the lifecycle phase of a viewed message.
type TimerStatus string

const (
	TimerStatusCounting       TimerStatus = "counting"
	TimerStatusDeleting       TimerStatus = "deleting"
	TimerStatusShowingUndoing TimerStatus = "showing_undoing"
	TimerStatusDeleted        TimerStatus = "deleted"
)

// Timer is the in-memory countdown attached to a viewed message. It is never
// persisted.
type Timer struct {
	MessageID     string      `json:"message_id"`
	TimeLeft      int         `json:"time_left"`
	Status        TimerStatus `json:"status"`
	CurrentText   *string     `json:"current_text,omitempty"`
	DeletionStart *time.Time  `json:"deletion_start,omitempty"`
}
