package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "active"
	InstanceCompleted InstanceStatus = "completed"
	InstanceCancelled InstanceStatus = "cancelled"
	InstancePaused    InstanceStatus = "paused"
)

// Instance is one running execution of a Workflow. CurrentStepID is nil once
// no step is pending. Version is bumped on every pointer or status change and
// is the compare-and-swap key for advancement.
type Instance struct {
	ID            uuid.UUID      `gorm:"type:uuid;primary_key;"`
	WorkflowID    uuid.UUID      `gorm:"type:uuid;index;not null"`
	StartedBy     string         `gorm:"type:varchar(100);not null"`
	CurrentStepID *uuid.UUID     `gorm:"type:uuid;index"`
	Status        InstanceStatus `gorm:"type:varchar(20);index;default:'active'"`
	StartData     datatypes.JSON `gorm:"type:jsonb"`
	Version       int            `gorm:"default:1"`

	// Set when a half-applied advancement could not be repaired.
	Inconsistent        bool   `gorm:"default:false;index"`
	InconsistencyReason string `gorm:"type:text"`

	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (Instance) TableName() string { return "workflow_instances" }

// --- FACTORY ---
func NewInstance(workflowID uuid.UUID, startedBy string, firstStepID uuid.UUID, startData datatypes.JSON) *Instance {
	now := time.Now()
	step := firstStepID
	return &Instance{
		ID:            uuid.New(),
		WorkflowID:    workflowID,
		StartedBy:     startedBy,
		CurrentStepID: &step,
		Status:        InstanceActive,
		StartData:     startData,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// --- METHODS ---
func (i *Instance) IsActive() bool {
	return i.Status == InstanceActive
}

func (i *Instance) IsFinished() bool {
	return i.Status == InstanceCompleted || i.Status == InstanceCancelled
}

// IsCurrent reports whether stepID is the instance's current step.
func (i *Instance) IsCurrent(stepID uuid.UUID) bool {
	return i.CurrentStepID != nil && *i.CurrentStepID == stepID
}

// CanTransitionTo covers the externally triggered status changes.
// Completion is produced only by advancement.
func (i *Instance) CanTransitionTo(next InstanceStatus) bool {
	switch next {
	case InstancePaused:
		return i.Status == InstanceActive
	case InstanceActive:
		return i.Status == InstancePaused
	case InstanceCancelled:
		return i.Status == InstanceActive || i.Status == InstancePaused
	}
	return false
}
