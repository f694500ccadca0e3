package repository

import (
	"context"
	"errors"

	"go-flowdesk/internal/core/ports"
	"go-flowdesk/internal/domain"

	"gorm.io/gorm"
)

type store struct {
	db *gorm.DB
}

// NewStore creates a gorm-backed Store
func NewStore(db *gorm.DB) ports.Store {
	return &store{db: db}
}

func (s *store) Definitions() ports.DefinitionRepository {
	return &definitionRepository{db: s.db}
}

func (s *store) Instances() ports.InstanceRepository {
	return &instanceRepository{db: s.db}
}

func (s *store) Assignments() ports.AssignmentRepository {
	return &assignmentRepository{db: s.db}
}

func (s *store) Reconciliations() ports.ReconciliationRepository {
	return &reconciliationRepository{db: s.db}
}

// WithinTx runs fn in a database transaction. Nested calls become savepoints.
func (s *store) WithinTx(ctx context.Context, fn func(tx ports.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&store{db: tx})
	})
}

// Migrate creates or updates the orchestration tables.
func Migrate(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).AutoMigrate(
		&domain.WorkflowDefinition{},
		&domain.Workflow{},
		&domain.Step{},
		&domain.Instance{},
		&domain.Assignment{},
		&domain.AssignmentReconciliation{},
	)
}

// notFound maps gorm's sentinel onto the domain one.
func notFound(err error, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
