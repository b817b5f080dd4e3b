package models

import "time"

// JobState tracks where an encoding job sits in its lifecycle. Pending and
// Processing are transient; Ready and Failed are terminal and never revert.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateReady      JobState = "ready"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobStateReady || s == JobStateFailed
}

// Valid reports whether the state is one of the four lifecycle states.
func (s JobState) Valid() bool {
	switch s {
	case JobStatePending, JobStateProcessing, JobStateReady, JobStateFailed:
		return true
	}
	return false
}

// EncodingJob is the durable status record for one submitted video. Message is
// empty unless State is failed, in which case it carries the failure cause.
type EncodingJob struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"sourcePath"`
	State      JobState  `json:"state"`
	Message    string    `json:"message,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
