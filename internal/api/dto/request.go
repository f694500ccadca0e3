package dto

import (
	"encoding/json"

	"go-flowdesk/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type StepDTO struct {
	Order            int             `json:"order" binding:"required,min=1"`
	Name             string          `json:"name" binding:"required"`
	Kind             string          `json:"kind" binding:"omitempty,oneof=task approval delay webhook email"`
	Assignee         *string         `json:"assignee"`
	EstimatedMinutes *int            `json:"estimated_minutes" binding:"omitempty,min=0"`
	Config           json.RawMessage `json:"config"`
}

// Empty step lists are rejected by the definition store, not by binding.
type SaveWorkflowRequest struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	Reusable    bool      `json:"reusable"`
	Steps       []StepDTO `json:"steps" binding:"dive"`
}

type SaveDefinitionRequest struct {
	Name        string    `json:"name" binding:"required"`
	Description string    `json:"description"`
	Reusable    bool      `json:"reusable"`
	CreatedBy   string    `json:"created_by"`
	Steps       []StepDTO `json:"steps" binding:"dive"`
}

type InstantiateRequest struct {
	Name string `json:"name"`
}

type StartInstanceRequest struct {
	StartedBy string         `json:"started_by" binding:"required"`
	StartData map[string]any `json:"start_data"`
}

type CompleteAssignmentRequest struct {
	Actor string  `json:"actor" binding:"required"`
	Notes *string `json:"notes"`
}

type AssignRequest struct {
	UserID     string `json:"user_id" binding:"required"`
	AssignedBy string `json:"assigned_by" binding:"required"`
}

type ListAssignmentsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

// ToSteps converts request steps into domain steps of workflowID.
func ToSteps(workflowID uuid.UUID, in []StepDTO) []domain.Step {
	return domain.StepsFromTemplates(workflowID, ToTemplates(in))
}

func ToTemplates(in []StepDTO) []domain.StepTemplate {
	out := make([]domain.StepTemplate, 0, len(in))
	for _, s := range in {
		t := domain.StepTemplate{
			Order:            s.Order,
			Name:             s.Name,
			Kind:             domain.StepKind(s.Kind),
			Assignee:         s.Assignee,
			EstimatedMinutes: s.EstimatedMinutes,
		}
		if len(s.Config) > 0 && string(s.Config) != "null" {
			t.Config = datatypes.JSON(s.Config)
		}
		out = append(out, t)
	}
	return out
}
