// Package events provides types and interfaces for tracking workflow
// execution progress: lifecycle events from workflow start through
// per-step progress to completion or failure, and the control-flow
// instrumentation events spec.md §4.6/§5 call for (repeat.exhausted,
// parallel.output_conflict).
package events

import (
	"time"
)

// ExecutionEventType represents the kind of execution event that occurred
// during workflow processing.
type ExecutionEventType string

const (
	EventWorkflowStarted   ExecutionEventType = "workflow.started"
	EventWorkflowCompleted ExecutionEventType = "workflow.completed"
	EventWorkflowFailed    ExecutionEventType = "workflow.failed"

	EventStepStarted  ExecutionEventType = "step.started"
	EventStepFinished ExecutionEventType = "step.finished"
	EventStepFailed   ExecutionEventType = "step.failed"
	EventStepSkipped  ExecutionEventType = "step.skipped"
	EventStepTimeout  ExecutionEventType = "step.timeout"

	// EventRepeatExhausted is emitted when a repeat/until loop reaches
	// max_iterations without until becoming true (spec.md §4.6).
	EventRepeatExhausted ExecutionEventType = "repeat.exhausted"

	// EventParallelOutputConflict is emitted when two siblings in a
	// parallel group write the same Output Map key (spec.md §5).
	EventParallelOutputConflict ExecutionEventType = "parallel.output_conflict"

	// EventToolCall / EventToolResult bracket a single tool dispatch.
	EventToolCall   ExecutionEventType = "tool.call"
	EventToolResult ExecutionEventType = "tool.result"
)

// ExecutionEvent is a single event emitted during workflow execution.
type ExecutionEvent struct {
	Type      ExecutionEventType     `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RunID     string                 `json:"run_id"`
	StepID    string                 `json:"step_id,omitempty"`
	StepIndex int                    `json:"step_index,omitempty"`
	Duration  time.Duration          `json:"duration,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Attempt   int                    `json:"attempt,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Listener monitors workflow executions in real time.
type Listener interface {
	StartListening(progressChan <-chan ExecutionEvent)
	StopListening()
}

// NoopListener discards every event; the default when no one is watching.
type NoopListener struct{}

func (n *NoopListener) StartListening(progressChan <-chan ExecutionEvent) {}
func (n *NoopListener) StopListening()                                   {}
