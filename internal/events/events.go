// Package events provides an event system for computation progress notifications.
package events

import (
	"fmt"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// EventRunStarted is emitted once a job has been validated and planned
	EventRunStarted EventType = "run_started"
	// EventWorkerFinished is emitted when a worker has written all of its blocks
	EventWorkerFinished EventType = "worker_finished"
	// EventRunCompleted is emitted after the matrix has been copied out
	EventRunCompleted EventType = "run_completed"
	// EventRunFailed is emitted when a run aborts
	EventRunFailed EventType = "run_failed"
	// EventSegmentReleased is emitted after the shared segment has been unlinked
	EventSegmentReleased EventType = "segment_released"
	// EventFaultInjected is emitted when the fault injector hits a worker
	EventFaultInjected EventType = "fault_injected"
)

// Event represents a computation event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Worker      string `json:"worker,omitempty"`
	Rows        int    `json:"rows,omitempty"`
	Blocks      int    `json:"blocks,omitempty"`
	Duration    string `json:"duration,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Parallelism int    `json:"parallelism,omitempty"`
	Granularity int    `json:"granularity,omitempty"`
	Segment     string `json:"segment,omitempty"`
	Error       string `json:"error,omitempty"`
	Fault       string `json:"fault,omitempty"`
}

// NewRunStartedEvent creates a run started event
func NewRunStartedEvent(runID string, width, height, parallelism, granularity int) Event {
	return Event{
		Type:      EventRunStarted,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Width:       width,
			Height:      height,
			Parallelism: parallelism,
			Granularity: granularity,
		},
	}
}

// NewWorkerFinishedEvent creates a worker finished event
func NewWorkerFinishedEvent(runID string, workerID, rows, blocks int, elapsed time.Duration) Event {
	return Event{
		Type:      EventWorkerFinished,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Worker:   fmt.Sprintf("worker-%d", workerID),
			Rows:     rows,
			Blocks:   blocks,
			Duration: elapsed.String(),
		},
	}
}

// NewRunCompletedEvent creates a run completed event
func NewRunCompletedEvent(runID string, elapsed time.Duration) Event {
	return Event{
		Type:      EventRunCompleted,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Duration: elapsed.String(),
		},
	}
}

// NewRunFailedEvent creates a run failed event
func NewRunFailedEvent(runID string, err error) Event {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	return Event{
		Type:      EventRunFailed,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Error: errMsg,
		},
	}
}

// NewSegmentReleasedEvent creates a segment released event
func NewSegmentReleasedEvent(runID, segment string) Event {
	return Event{
		Type:      EventSegmentReleased,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Segment: segment,
		},
	}
}

// NewFaultInjectedEvent creates a fault injected event
func NewFaultInjectedEvent(runID string, workerID int, fault string) Event {
	return Event{
		Type:      EventFaultInjected,
		Timestamp: time.Now(),
		RunID:     runID,
		Data: EventData{
			Worker: fmt.Sprintf("worker-%d", workerID),
			Fault:  fault,
		},
	}
}
