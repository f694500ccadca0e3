package domain

import (
	"time"

	"github.com/google/uuid"
)

type AssignmentStatus string

const (
	AssignmentPending    AssignmentStatus = "pending"
	AssignmentInProgress AssignmentStatus = "in_progress"
	AssignmentCompleted  AssignmentStatus = "completed"
	AssignmentSkipped    AssignmentStatus = "skipped"
)

func (s AssignmentStatus) Valid() bool {
	switch s {
	case AssignmentPending, AssignmentInProgress, AssignmentCompleted, AssignmentSkipped:
		return true
	}
	return false
}

// Assignment binds a step, within one instance's execution, to a responsible
// user. AssignedTo is empty for steps that had no configured assignee.
type Assignment struct {
	ID          uuid.UUID        `gorm:"type:uuid;primary_key;"`
	InstanceID  uuid.UUID        `gorm:"type:uuid;index:idx_assignment_instance_step;not null"`
	StepID      uuid.UUID        `gorm:"type:uuid;index:idx_assignment_instance_step;not null"`
	AssignedTo  string           `gorm:"type:varchar(100);index"`
	AssignedBy  string           `gorm:"type:varchar(100)"`
	Status      AssignmentStatus `gorm:"type:varchar(20);index;default:'pending'"`
	DueDate     *time.Time
	CompletedAt *time.Time
	Notes       *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (Assignment) TableName() string { return "step_assignments" }

// --- FACTORY ---
func NewAssignment(instanceID, stepID uuid.UUID, assignedTo, assignedBy string) *Assignment {
	now := time.Now()
	return &Assignment{
		ID:         uuid.New(),
		InstanceID: instanceID,
		StepID:     stepID,
		AssignedTo: assignedTo,
		AssignedBy: assignedBy,
		Status:     AssignmentPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// --- METHODS ---
func (a *Assignment) IsCompleted() bool {
	return a.Status == AssignmentCompleted
}

// IsOpen reports whether someone still owes work on this assignment.
func (a *Assignment) IsOpen() bool {
	return a.Status == AssignmentPending || a.Status == AssignmentInProgress
}

func (a *Assignment) IsUnassigned() bool {
	return a.AssignedTo == ""
}

// AssignmentView is an assignment joined with its step and workflow names.
type AssignmentView struct {
	Assignment   `gorm:"embedded"`
	StepName     string
	StepOrder    int
	WorkflowID   uuid.UUID
	WorkflowName string
}

// AssignmentReconciliation is the audit record written for every orphan
// assignment removed by the reconciler.
type AssignmentReconciliation struct {
	ID           uuid.UUID        `gorm:"type:uuid;primary_key;"`
	AssignmentID uuid.UUID        `gorm:"type:uuid;index;not null"`
	InstanceID   uuid.UUID        `gorm:"type:uuid;index"`
	StepID       uuid.UUID        `gorm:"type:uuid"`
	AssignedTo   string           `gorm:"type:varchar(100)"`
	Status       AssignmentStatus `gorm:"type:varchar(20)"`
	Reason       string           `gorm:"type:varchar(50);not null"`
	Viewer       string           `gorm:"type:varchar(100)"`
	CreatedAt    time.Time
}

func (AssignmentReconciliation) TableName() string { return "assignment_reconciliations" }
