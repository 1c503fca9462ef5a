package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/vision-gateway/models"
	"github.com/upb/vision-gateway/repositories"
	"github.com/upb/vision-gateway/services"
)

// GetRun returns a recorded run by ID
func (s *AuditService) GetRun(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error) {
	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrRunNotFound
		}
		s.logger.Error("failed to load analysis run", zap.String("run_id", id.String()), zap.Error(err))
		return nil, services.WrapError(services.ErrorTypeInternal, "failed to load analysis run", err)
	}
	return run, nil
}

// ListRuns returns recorded runs, newest first
func (s *AuditService) ListRuns(ctx context.Context, filter repositories.RunFilter) ([]*models.AnalysisRun, error) {
	switch filter.Status {
	case "", models.RunStatusSucceeded, models.RunStatusExhausted, models.RunStatusFailed, models.RunStatusCancelled:
	default:
		return nil, services.NewDomainError(services.ErrorTypeValidation, "unknown run status", nil).
			WithDetail("status", string(filter.Status))
	}

	runs, err := s.runRepo.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list analysis runs", zap.Error(err))
		return nil, services.WrapError(services.ErrorTypeInternal, "failed to list analysis runs", err)
	}
	if runs == nil {
		runs = []*models.AnalysisRun{}
	}
	return runs, nil
}
