package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/vision-gateway/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// RunFilter narrows a run listing
type RunFilter struct {
	Status  models.RunStatus
	Subject string
	Limit   int
	Offset  int
}

// AnalysisRunRepository handles analysis run summaries
type AnalysisRunRepository interface {
	// Insert stores a finished run
	Insert(ctx context.Context, run *models.AnalysisRun) error

	// GetByID retrieves a run by ID; ErrNotFound when absent
	GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error)

	// List returns runs newest first
	List(ctx context.Context, filter RunFilter) ([]*models.AnalysisRun, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Runs AnalysisRunRepository
}
