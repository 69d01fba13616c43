package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"TenderWatch/internal/domain"
)

// psql builds all queries with Postgres placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// InitSchema creates the three tables and the uniqueness index for the
// active dedupe strategy. Rows inserted under an earlier strategy keep
// their identity semantics; only a best-effort cleanup for the active key
// runs before its unique index is created.
func InitSchema(ctx context.Context, db *sql.DB, strategy domain.DedupeStrategy) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS announcements (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			date TEXT NOT NULL,
			content TEXT,
			ai_summary TEXT,
			status TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_announcements_date ON announcements(date)`,
		`CREATE INDEX IF NOT EXISTS idx_announcements_status ON announcements(status)`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			duration_seconds INTEGER,
			total_processed INTEGER NOT NULL,
			total_new INTEGER NOT NULL,
			total_duplicate INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			schedule_kind TEXT NOT NULL,
			cron_expr TEXT,
			interval_seconds INTEGER,
			config_json JSONB NOT NULL,
			last_run_id TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_enabled ON tasks(enabled)`,
	}
	stmts = append(stmts, dedupeCleanupSQL(strategy), uniqueIndexSQL(strategy))

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func strategyColumns(strategy domain.DedupeStrategy) []string {
	switch strategy {
	case domain.DedupeByURL:
		return []string{"url"}
	case domain.DedupeByTitleDate:
		return []string{"title", "date"}
	default:
		return []string{"title"}
	}
}

func dedupeCleanupSQL(strategy domain.DedupeStrategy) string {
	cols := strategyColumns(strategy)
	group := cols[0]
	for _, c := range cols[1:] {
		group += ", " + c
	}
	return fmt.Sprintf(
		`DELETE FROM announcements WHERE id NOT IN (SELECT MIN(id) FROM announcements GROUP BY %s)`,
		group,
	)
}

func uniqueIndexSQL(strategy domain.DedupeStrategy) string {
	cols := strategyColumns(strategy)
	name := "ux_announcements_" + cols[0]
	group := cols[0]
	for _, c := range cols[1:] {
		name += "_" + c
		group += ", " + c
	}
	return fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON announcements(%s)`, name, group)
}
