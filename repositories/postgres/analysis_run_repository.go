package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/vision-gateway/models"
	"github.com/upb/vision-gateway/repositories"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	runColumns = `id, request_id, subject, status, candidate, attempt_count, verdict,
		       image_count, prompt_chars, latency_ms, error_message, created_at`
)

// AnalysisRunRepository implements the repositories.AnalysisRunRepository interface
type AnalysisRunRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAnalysisRunRepository creates a new analysis run repository
func NewAnalysisRunRepository(db *DB, logger *zap.Logger) repositories.AnalysisRunRepository {
	return &AnalysisRunRepository{
		db:     db,
		logger: logger,
	}
}

// Insert stores a finished run
func (r *AnalysisRunRepository) Insert(ctx context.Context, run *models.AnalysisRun) error {
	query := `
		INSERT INTO analysis_runs (
			id, request_id, subject, status, candidate, attempt_count, verdict,
			image_count, prompt_chars, latency_ms, error_message, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.RequestID,
		nullString(run.Subject),
		run.Status,
		run.Candidate,
		run.AttemptCount,
		nullString(run.Verdict),
		run.ImageCount,
		run.PromptChars,
		run.LatencyMs,
		run.ErrorMessage,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis run: %w", err)
	}

	r.logger.Debug("analysis run stored",
		zap.String("id", run.ID.String()),
		zap.String("request_id", run.RequestID),
		zap.String("status", string(run.Status)))
	return nil
}

// GetByID retrieves a run by ID
func (r *AnalysisRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AnalysisRun, error) {
	query := `SELECT ` + runColumns + ` FROM analysis_runs WHERE id = $1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("analysis run %s: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get analysis run: %w", err)
	}

	return run, nil
}

// List returns runs newest first
func (r *AnalysisRunRepository) List(ctx context.Context, filter repositories.RunFilter) ([]*models.AnalysisRun, error) {
	var (
		conditions []string
		args       []interface{}
	)

	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Subject != "" {
		args = append(args, filter.Subject)
		conditions = append(conditions, fmt.Sprintf("subject = $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + runColumns + ` FROM analysis_runs`)
	if len(conditions) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	args = append(args, limit, offset)
	sb.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)))

	rows, err := r.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.AnalysisRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*models.AnalysisRun, error) {
	run := &models.AnalysisRun{}
	var subject, verdict sql.NullString

	err := row.Scan(
		&run.ID,
		&run.RequestID,
		&subject,
		&run.Status,
		&run.Candidate,
		&run.AttemptCount,
		&verdict,
		&run.ImageCount,
		&run.PromptChars,
		&run.LatencyMs,
		&run.ErrorMessage,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Subject = subject.String
	run.Verdict = verdict.String
	return run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
