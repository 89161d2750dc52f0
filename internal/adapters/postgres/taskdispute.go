package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hustlexp/moneycore/internal/domain"
	"github.com/hustlexp/moneycore/pkg/idgen"
)

// TaskRepository implements internal/msm.TaskLookup plus the CRUD the HTTP
// layer needs for task creation and lookup.
type TaskRepository struct {
	Store
}

func (r *TaskRepository) HasAssignedWorker(ctx context.Context, taskID string) (bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.task.has_assigned_worker")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	var workerID sql.NullString

	row := db.QueryRowContext(ctx, `SELECT worker_id FROM tasks WHERE id = $1`, taskID)
	if err := row.Scan(&workerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("postgres: check assigned worker: %w", err)
	}

	return workerID.Valid && workerID.String != "", nil
}

func (r *TaskRepository) Create(ctx context.Context, t *domain.Task) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.task.create")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if t.ID == uuid.Nil {
		t.ID = idgen.NewID()
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO tasks (id, poster_id, worker_id, title, description, category, city, price_cents,
		                    tpee_evaluation_id, tpee_decision, tpee_reason_code, tpee_confidence, policy_snapshot_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, t.ID, t.PosterID, t.WorkerID, t.Title, t.Description, t.Category, t.City, t.PriceCents,
		t.TPEEEvaluationID, t.TPEEDecision, t.TPEEReasonCode, t.TPEEConfidence, t.PolicySnapshotID, t.CreatedAt); err != nil {
		return fmt.Errorf("postgres: create task: %w", err)
	}

	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.task.get_by_id")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, poster_id, worker_id, title, description, category, city, price_cents,
		       tpee_evaluation_id, tpee_decision, tpee_reason_code, tpee_confidence, policy_snapshot_id, created_at
		FROM tasks WHERE id = $1
	`, id)

	var t domain.Task
	if err := row.Scan(&t.ID, &t.PosterID, &t.WorkerID, &t.Title, &t.Description, &t.Category, &t.City,
		&t.PriceCents, &t.TPEEEvaluationID, &t.TPEEDecision, &t.TPEEReasonCode, &t.TPEEConfidence,
		&t.PolicySnapshotID, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("postgres: get task: %w", err)
	}

	return &t, nil
}

func (r *TaskRepository) AssignWorker(ctx context.Context, taskID, workerID string) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.task.assign_worker")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `UPDATE tasks SET worker_id = $2 WHERE id = $1`, taskID, workerID); err != nil {
		return fmt.Errorf("postgres: assign worker: %w", err)
	}

	return nil
}

// DisputeRepository implements internal/msm.DisputeLookup plus dispute CRUD.
type DisputeRepository struct {
	Store
}

func (r *DisputeRepository) HasNonTerminalDispute(ctx context.Context, taskID string) (bool, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.dispute.has_non_terminal")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return false, err
	}

	var count int

	row := db.QueryRowContext(ctx, `
		SELECT count(*) FROM disputes WHERE task_id = $1 AND status != 'resolved'
	`, taskID)
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("postgres: count non-terminal disputes: %w", err)
	}

	return count > 0, nil
}

func (r *DisputeRepository) FindActionableDispute(ctx context.Context, taskID string) (*domain.Dispute, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.dispute.find_actionable")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, task_id, status, opened_by, created_at, updated_at
		FROM disputes WHERE task_id = $1 AND status != 'resolved'
		ORDER BY created_at DESC LIMIT 1
	`, taskID)

	var d domain.Dispute
	if err := row.Scan(&d.ID, &d.TaskID, &d.Status, &d.OpenedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("postgres: find actionable dispute: %w", err)
	}

	return &d, nil
}

func (r *DisputeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Dispute, error) {
	ctx, span := r.Tracer.Start(ctx, "postgres.dispute.get_by_id")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}

	row := db.QueryRowContext(ctx, `
		SELECT id, task_id, status, opened_by, created_at, updated_at
		FROM disputes WHERE id = $1
	`, id)

	var d domain.Dispute
	if err := row.Scan(&d.ID, &d.TaskID, &d.Status, &d.OpenedBy, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("postgres: get dispute: %w", err)
	}

	return &d, nil
}

func (r *DisputeRepository) Create(ctx context.Context, d *domain.Dispute) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.dispute.create")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if d.ID == uuid.Nil {
		d.ID = idgen.NewID()
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO disputes (id, task_id, status, opened_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.ID, d.TaskID, d.Status, d.OpenedBy, d.CreatedAt, d.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: create dispute: %w", err)
	}

	return nil
}

func (r *DisputeRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.Tracer.Start(ctx, "postgres.dispute.mark_resolved")
	defer span.End()

	db, err := r.db(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE disputes SET status = 'resolved', updated_at = now() WHERE id = $1
	`, id); err != nil {
		return fmt.Errorf("postgres: mark dispute resolved: %w", err)
	}

	return nil
}
