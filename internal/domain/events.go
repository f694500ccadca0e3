package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInstanceStarted   EventType = "instance.started"
	EventStepCompleted     EventType = "step.completed"
	EventStepAssigned      EventType = "step.assigned"
	EventStepUnassigned    EventType = "step.unassigned"
	EventInstanceCompleted EventType = "instance.completed"
	EventInstanceRepaired  EventType = "instance.repaired"
)

// Event is published to the event bus after a state change commits.
// Notification delivery subscribes to these.
type Event struct {
	Type         EventType `json:"type"`
	InstanceID   uuid.UUID `json:"instance_id"`
	WorkflowID   uuid.UUID `json:"workflow_id"`
	StepID       uuid.UUID `json:"step_id,omitempty"`
	AssignmentID uuid.UUID `json:"assignment_id,omitempty"`
	AssignedTo   string    `json:"assigned_to,omitempty"`
	Actor        string    `json:"actor,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// CompletionRequest is an external trigger asking for an assignment to be
// completed, consumed by the coordinator with the same contract as the API.
type CompletionRequest struct {
	AssignmentID uuid.UUID `json:"assignment_id"`
	Actor        string    `json:"actor"`
	Notes        *string   `json:"notes,omitempty"`
}
