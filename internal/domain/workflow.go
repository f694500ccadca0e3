package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// WorkflowDefinition is a reusable template. Concrete Workflow records are
// instantiated from it; editing a definition never touches running instances.
type WorkflowDefinition struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key;"`
	Name        string    `gorm:"type:varchar(200);not null"`
	Description string    `gorm:"type:text"`
	Reusable    bool      `gorm:"default:false"`
	CreatedBy   string    `gorm:"type:varchar(100)"`

	Steps datatypes.JSONType[[]StepTemplate] `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (WorkflowDefinition) TableName() string { return "workflow_definitions" }

// StepTemplate is the definition-side shape of a Step.
type StepTemplate struct {
	Order            int            `json:"order"`
	Name             string         `json:"name"`
	Kind             StepKind       `json:"kind"`
	Assignee         *string        `json:"assignee,omitempty"`
	EstimatedMinutes *int           `json:"estimated_minutes,omitempty"`
	Config           datatypes.JSON `json:"config,omitempty"`
}

// Workflow is a concrete, nameable workflow record. Instances run against it.
type Workflow struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key;"`
	DefinitionID *uuid.UUID `gorm:"type:uuid;index"`
	Name         string     `gorm:"type:varchar(200);not null"`
	Description  string     `gorm:"type:text"`
	Reusable     bool       `gorm:"default:false"`

	Steps []Step `gorm:"foreignKey:WorkflowID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Workflow) TableName() string { return "workflows" }

// Step is one ordered unit of work. Order is unique within its workflow and
// only needs to be strictly increasing, not contiguous.
type Step struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key;"`
	WorkflowID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_step_workflow_order"`
	Order            int       `gorm:"column:step_order;not null;uniqueIndex:idx_step_workflow_order"`
	Name             string    `gorm:"type:varchar(200);not null"`
	Kind             StepKind  `gorm:"type:varchar(20);not null;default:'task'"`
	Assignee         *string   `gorm:"type:varchar(100)"`
	EstimatedMinutes *int
	Config           datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Step) TableName() string { return "workflow_steps" }

// --- FACTORY ---
func NewWorkflow(name, description string) *Workflow {
	now := time.Now()
	return &Workflow{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func NewStep(workflowID uuid.UUID, order int, name string, kind StepKind) Step {
	return Step{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Order:      order,
		Name:       name,
		Kind:       kind,
	}
}

// --- METHODS ---

// HasAssignee reports whether the step names a concrete user.
func (s *Step) HasAssignee() bool {
	return s.Assignee != nil && *s.Assignee != ""
}

// AssigneeOrEmpty returns the configured assignee or "" for unassigned steps.
func (s *Step) AssigneeOrEmpty() string {
	if s.Assignee == nil {
		return ""
	}
	return *s.Assignee
}

// StepsFromTemplates materializes template steps for a concrete workflow.
func StepsFromTemplates(workflowID uuid.UUID, templates []StepTemplate) []Step {
	steps := make([]Step, 0, len(templates))
	for _, t := range templates {
		s := NewStep(workflowID, t.Order, t.Name, t.Kind)
		s.Assignee = t.Assignee
		s.EstimatedMinutes = t.EstimatedMinutes
		s.Config = t.Config
		steps = append(steps, s)
	}
	return steps
}
