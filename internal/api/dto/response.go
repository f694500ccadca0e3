package dto

import (
	"encoding/json"
	"time"

	"go-flowdesk/internal/domain"
	"go-flowdesk/internal/engine"
	"go-flowdesk/internal/service"

	"github.com/google/uuid"
)

type CreateInstanceResponse struct {
	InstanceID uuid.UUID `json:"instance_id"`
}

type WorkflowResponse struct {
	ID           uuid.UUID  `json:"id"`
	DefinitionID *uuid.UUID `json:"definition_id,omitempty"`
	Name         string     `json:"name"`
}

type DefinitionResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type InstanceResponse struct {
	ID                  uuid.UUID       `json:"id"`
	WorkflowID          uuid.UUID       `json:"workflow_id"`
	StartedBy           string          `json:"started_by"`
	CurrentStepID       *uuid.UUID      `json:"current_step_id"`
	Status              string          `json:"status"`
	StartData           json.RawMessage `json:"start_data,omitempty"`
	Version             int             `json:"version"`
	Inconsistent        bool            `json:"inconsistent"`
	InconsistencyReason string          `json:"inconsistency_reason,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

type AssignmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	InstanceID   uuid.UUID  `json:"instance_id"`
	StepID       uuid.UUID  `json:"step_id"`
	StepName     string     `json:"step_name,omitempty"`
	StepOrder    int        `json:"step_order,omitempty"`
	WorkflowID   uuid.UUID  `json:"workflow_id,omitempty"`
	WorkflowName string     `json:"workflow_name,omitempty"`
	AssignedTo   string     `json:"assigned_to"`
	AssignedBy   string     `json:"assigned_by"`
	Status       string     `json:"status"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type OutcomeResponse struct {
	Status   string              `json:"status"`
	Warning  string              `json:"warning,omitempty"`
	Instance *InstanceResponse   `json:"instance,omitempty"`
	Next     *AssignmentResponse `json:"next,omitempty"`
}

type RepairResponse struct {
	InstanceID uuid.UUID `json:"instance_id"`
	Problem    string    `json:"problem,omitempty"`
	Repaired   bool      `json:"repaired"`
	Cleared    bool      `json:"cleared"`
}

func FromInstance(i *domain.Instance) *InstanceResponse {
	if i == nil {
		return nil
	}
	return &InstanceResponse{
		ID:                  i.ID,
		WorkflowID:          i.WorkflowID,
		StartedBy:           i.StartedBy,
		CurrentStepID:       i.CurrentStepID,
		Status:              string(i.Status),
		StartData:           json.RawMessage(i.StartData),
		Version:             i.Version,
		Inconsistent:        i.Inconsistent,
		InconsistencyReason: i.InconsistencyReason,
		CompletedAt:         i.CompletedAt,
		CreatedAt:           i.CreatedAt,
	}
}

func FromAssignment(a *domain.Assignment) *AssignmentResponse {
	if a == nil {
		return nil
	}
	return &AssignmentResponse{
		ID:          a.ID,
		InstanceID:  a.InstanceID,
		StepID:      a.StepID,
		AssignedTo:  a.AssignedTo,
		AssignedBy:  a.AssignedBy,
		Status:      string(a.Status),
		DueDate:     a.DueDate,
		CompletedAt: a.CompletedAt,
		Notes:       a.Notes,
		CreatedAt:   a.CreatedAt,
	}
}

func FromViews(views []domain.AssignmentView) []AssignmentResponse {
	out := make([]AssignmentResponse, 0, len(views))
	for i := range views {
		r := FromAssignment(&views[i].Assignment)
		r.StepName = views[i].StepName
		r.StepOrder = views[i].StepOrder
		r.WorkflowID = views[i].WorkflowID
		r.WorkflowName = views[i].WorkflowName
		out = append(out, *r)
	}
	return out
}

func FromOutcome(o *service.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		Status:   o.Status,
		Instance: FromInstance(o.Instance),
		Next:     FromAssignment(o.Next),
	}
	if o.Warning != nil {
		resp.Warning = o.Warning.Error()
	}
	if resp.Next != nil && o.NextStep != nil {
		resp.Next.StepName = o.NextStep.Name
		resp.Next.StepOrder = o.NextStep.Order
	}
	return resp
}

func FromRepair(r *engine.RepairReport) RepairResponse {
	return RepairResponse{
		InstanceID: r.InstanceID,
		Problem:    string(r.Problem),
		Repaired:   r.Repaired,
		Cleared:    r.Cleared,
	}
}
