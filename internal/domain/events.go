package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventWorkflowCreated    EventKind = "WORKFLOW_CREATED"
	EventWorkflowStarted    EventKind = "WORKFLOW_STARTED"
	EventStepCompleted      EventKind = "STEP_COMPLETED"
	EventWorkflowStalled    EventKind = "WORKFLOW_STALLED"
	EventWorkflowFailed     EventKind = "WORKFLOW_FAILED"
	EventWorkflowCompleted  EventKind = "WORKFLOW_COMPLETED"
	EventWorkflowReconciled EventKind = "WORKFLOW_RECONCILED"
)

// LifecycleEvent is emitted synchronously after every persisted state
// mutation. Listeners are registered explicitly on the engine; there is no
// implicit global bus.
type LifecycleEvent struct {
	Kind       EventKind     `json:"kind"`
	WorkflowID uuid.UUID     `json:"workflow_id"`
	Type       WorkflowType  `json:"type"`
	State      WorkflowState `json:"state"`
	Step       StepName      `json:"step"`
	Reason     string        `json:"reason,omitempty"`
	At         time.Time     `json:"at"`
}

// LifecycleListener consumes engine and reconciler events. Implementations
// must not block; the emission call is synchronous.
type LifecycleListener interface {
	OnLifecycleEvent(event LifecycleEvent)
}

// ListenerFunc adapts a function to the LifecycleListener interface.
type ListenerFunc func(event LifecycleEvent)

func (f ListenerFunc) OnLifecycleEvent(event LifecycleEvent) { f(event) }
