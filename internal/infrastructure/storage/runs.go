package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/ports"
)

// RunRepository is the audit ledger of pipeline executions.
type RunRepository struct {
	db *sql.DB
}

var _ ports.RunRepository = (*RunRepository)(nil)

// NewRunRepository wires a sql.DB implementation.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create opens a RUNNING row. An empty runID gets a generated UUID.
func (r *RunRepository) Create(ctx context.Context, runID string) (domain.Run, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	started := time.Now()

	query, args, err := psql.Insert("runs").
		Columns("run_id", "started_at", "total_processed", "total_new", "total_duplicate", "status").
		Values(runID, started, 0, 0, 0, string(domain.RunRunning)).
		ToSql()
	if err != nil {
		return domain.Run{}, fmt.Errorf("build create run: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}

	return domain.Run{RunID: runID, StartedAt: started, Status: domain.RunRunning}, nil
}

// Finalize writes the terminal outcome. The row is immutable afterwards by
// convention: the pipeline is its only writer and finalizes exactly once.
func (r *RunRepository) Finalize(ctx context.Context, run domain.Run) error {
	var errCol any
	if run.Error != "" {
		errCol = run.Error
	}

	query, args, err := psql.Update("runs").
		Set("finished_at", run.FinishedAt).
		Set("duration_seconds", run.DurationSeconds).
		Set("total_processed", run.TotalProcessed).
		Set("total_new", run.TotalNew).
		Set("total_duplicate", run.TotalDuplicate).
		Set("status", string(run.Status)).
		Set("error", errCol).
		Where(sq.Eq{"run_id": run.RunID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build finalize run: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("finalize run %s: %w", run.RunID, err)
	}
	return nil
}

// List returns runs newest-first with the total count.
func (r *RunRepository) List(ctx context.Context, limit, offset int) (int, []domain.Run, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM runs").Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count runs: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	query, args, err := psql.
		Select("run_id", "started_at", "finished_at", "duration_seconds",
			"total_processed", "total_new", "total_duplicate", "status", "error").
		From("runs").
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(max(offset, 0))).
		ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build list runs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return 0, nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("rows iteration: %w", err)
	}
	return total, out, nil
}

// Get loads one run by id.
func (r *RunRepository) Get(ctx context.Context, runID string) (domain.Run, error) {
	query, args, err := psql.
		Select("run_id", "started_at", "finished_at", "duration_seconds",
			"total_processed", "total_new", "total_duplicate", "status", "error").
		From("runs").
		Where(sq.Eq{"run_id": runID}).
		ToSql()
	if err != nil {
		return domain.Run{}, fmt.Errorf("build get run: %w", err)
	}
	return scanRun(r.db.QueryRowContext(ctx, query, args...))
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run      domain.Run
		finished sql.NullTime
		duration sql.NullInt64
		status   string
		errText  sql.NullString
	)
	err := row.Scan(&run.RunID, &run.StartedAt, &finished, &duration,
		&run.TotalProcessed, &run.TotalNew, &run.TotalDuplicate, &status, &errText)
	if err != nil {
		return domain.Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.FinishedAt = finished.Time
	run.DurationSeconds = int(duration.Int64)
	run.Status = domain.RunStatus(status)
	run.Error = errText.String
	return run, nil
}
