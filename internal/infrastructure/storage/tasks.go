package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/ports"
)

// TaskRepository persists schedulable task definitions.
type TaskRepository struct {
	db *sql.DB
}

var _ ports.TaskRepository = (*TaskRepository)(nil)

// NewTaskRepository wires a sql.DB implementation.
func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = "task_id, name, enabled, schedule_kind, cron_expr, interval_seconds, config_json, last_run_id, created_at, updated_at"

// List returns all tasks, most recently updated first.
func (r *TaskRepository) List(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return out, nil
}

// Get loads one task by id.
func (r *TaskRepository) Get(ctx context.Context, taskID string) (domain.Task, error) {
	query, args, err := psql.Select(taskColumns).From("tasks").Where(sq.Eq{"task_id": taskID}).ToSql()
	if err != nil {
		return domain.Task{}, fmt.Errorf("build get task: %w", err)
	}
	return scanTask(r.db.QueryRowContext(ctx, query, args...))
}

// Upsert creates or replaces a task definition. Timestamps come from the
// caller so every store sees the same values the registry assigned.
func (r *TaskRepository) Upsert(ctx context.Context, task domain.Task) error {
	query, args, err := upsertTaskQuery(task)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert task %s: %w", task.TaskID, err)
	}
	return nil
}

func upsertTaskQuery(task domain.Task) (string, []any, error) {
	cfg, err := json.Marshal(task.Pipeline)
	if err != nil {
		return "", nil, fmt.Errorf("marshal task config: %w", err)
	}

	var cron, interval any
	if task.Schedule.CronExpr != "" {
		cron = task.Schedule.CronExpr
	}
	if task.Schedule.IntervalSeconds > 0 {
		interval = task.Schedule.IntervalSeconds
	}

	created, updated := task.CreatedAt, task.UpdatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}

	query, args, err := psql.Insert("tasks").
		Columns("task_id", "name", "enabled", "schedule_kind", "cron_expr",
			"interval_seconds", "config_json", "created_at", "updated_at").
		Values(task.TaskID, task.Name, task.Enabled, string(task.Schedule.Kind),
			cron, interval, cfg, created, updated).
		Suffix(`ON CONFLICT (task_id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			schedule_kind = EXCLUDED.schedule_kind,
			cron_expr = EXCLUDED.cron_expr,
			interval_seconds = EXCLUDED.interval_seconds,
			config_json = EXCLUDED.config_json,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert task: %w", err)
	}
	return query, args, nil
}

// SetEnabled flips the enabled flag; it never touches an in-flight run.
func (r *TaskRepository) SetEnabled(ctx context.Context, taskID string, enabled bool) error {
	query, args, err := psql.Update("tasks").
		Set("enabled", enabled).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set enabled: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set task %s enabled=%t: %w", taskID, enabled, err)
	}
	return nil
}

// Delete removes the definition; historical runs and announcements stay.
func (r *TaskRepository) Delete(ctx context.Context, taskID string) error {
	query, args, err := psql.Delete("tasks").Where(sq.Eq{"task_id": taskID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete task: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

// SetLastRun records the non-owning back-reference to the latest run.
func (r *TaskRepository) SetLastRun(ctx context.Context, taskID, runID string) error {
	query, args, err := psql.Update("tasks").
		Set("last_run_id", runID).
		Where(sq.Eq{"task_id": taskID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set last run: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set task %s last run: %w", taskID, err)
	}
	return nil
}

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		task     domain.Task
		kind     string
		cron     sql.NullString
		interval sql.NullInt64
		cfg      []byte
		lastRun  sql.NullString
	)
	err := row.Scan(&task.TaskID, &task.Name, &task.Enabled, &kind, &cron,
		&interval, &cfg, &lastRun, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}

	task.Schedule = domain.Schedule{
		Kind:            domain.ScheduleKind(kind),
		CronExpr:        cron.String,
		IntervalSeconds: int(interval.Int64),
	}
	task.LastRunID = lastRun.String
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &task.Pipeline); err != nil {
			return domain.Task{}, fmt.Errorf("decode task config: %w", err)
		}
	}
	return task, nil
}
