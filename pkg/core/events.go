package core

import "time"

// EventType identifies the kind of progress event.
type EventType string

const (
	EventStatusUpdate EventType = "status_update"
	EventStepUpdate   EventType = "step_update"
	EventNotification EventType = "notification"
	EventKeepalive    EventType = "keepalive"
)

// Severity classifies a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Event is a progress message for one job. The JSON form is the wire
// contract delivered to subscribers.
type Event struct {
	Type           EventType     `json:"type"`
	JobID          string        `json:"job_id"`
	Status         JobStatus     `json:"status,omitempty"`
	Step           *int          `json:"step,omitempty"`
	Message        string        `json:"message,omitempty"`
	ElapsedSeconds *float64      `json:"elapsed_seconds,omitempty"`
	Title          string        `json:"title,omitempty"`
	Severity       Severity      `json:"severity,omitempty"`
	TimingMetrics  TimingMetrics `json:"timing_metrics,omitempty"`
	Timestamp      time.Time     `json:"-"`
}

// IsTerminal reports whether e is the final status_update of a job.
func (e Event) IsTerminal() bool {
	return e.Type == EventStatusUpdate && e.Status.IsTerminal()
}

// StatusUpdate builds a status_update event.
func StatusUpdate(jobID string, status JobStatus, message string) Event {
	return Event{
		Type:      EventStatusUpdate,
		JobID:     jobID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// StepUpdate builds a step_update event. Elapsed time is rounded to
// hundredths of a second.
func StepUpdate(jobID string, step int, message string, elapsed time.Duration) Event {
	secs := roundSeconds(elapsed)
	return Event{
		Type:           EventStepUpdate,
		JobID:          jobID,
		Step:           &step,
		Message:        message,
		ElapsedSeconds: &secs,
		Timestamp:      time.Now(),
	}
}

// Notification builds a notification event.
func Notification(jobID, title, message string, severity Severity) Event {
	return Event{
		Type:      EventNotification,
		JobID:     jobID,
		Title:     title,
		Message:   message,
		Severity:  severity,
		Timestamp: time.Now(),
	}
}

// Keepalive builds a keepalive event.
func Keepalive(jobID string) Event {
	return Event{Type: EventKeepalive, JobID: jobID, Timestamp: time.Now()}
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond).Milliseconds()) / 1000
}
