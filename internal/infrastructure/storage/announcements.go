package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/ports"
)

// AnnouncementRepository persists harvested announcements in Postgres.
type AnnouncementRepository struct {
	db *sql.DB
}

var _ ports.AnnouncementRepository = (*AnnouncementRepository)(nil)

// NewAnnouncementRepository wires a sql.DB implementation.
func NewAnnouncementRepository(db *sql.DB) *AnnouncementRepository {
	return &AnnouncementRepository{db: db}
}

// Exists checks the identity key selected by strategy.
func (r *AnnouncementRepository) Exists(ctx context.Context, a domain.Announcement, strategy domain.DedupeStrategy) (bool, error) {
	q := psql.Select("1").From("announcements").Limit(1)
	switch strategy {
	case domain.DedupeByURL:
		q = q.Where(sq.Eq{"url": a.URL})
	case domain.DedupeByTitleDate:
		q = q.Where(sq.Eq{"title": a.Title, "date": a.Date})
	default:
		q = q.Where(sq.Eq{"title": a.Title})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists query: %w", err)
	}

	var one int
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query exists: %w", err)
	}
	return true, nil
}

// InsertIfAbsent inserts atomically under the active unique index; a
// conflict means the item is already known and is not an error.
func (r *AnnouncementRepository) InsertIfAbsent(ctx context.Context, a domain.Announcement) (int64, bool, error) {
	now := time.Now()
	query, args, err := psql.Insert("announcements").
		Columns("title", "url", "date", "status", "source", "created_at", "updated_at").
		Values(a.Title, a.URL, a.Date, string(a.Status), a.Source, now, now).
		Suffix("ON CONFLICT DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, false, fmt.Errorf("build insert: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || isUniqueViolation(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("insert announcement: %w", err)
	}
	return id, true, nil
}

// UpdateDetail attaches content and summary and moves the item's status.
func (r *AnnouncementRepository) UpdateDetail(ctx context.Context, id int64, content, summary string, status domain.AnnouncementStatus) error {
	query, args, err := psql.Update("announcements").
		Set("content", content).
		Set("ai_summary", summary).
		Set("status", string(status)).
		Set("updated_at", time.Now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update announcement %d: %w", id, err)
	}
	return nil
}

// Query is the read surface for the presentation layer.
func (r *AnnouncementRepository) Query(ctx context.Context, f ports.AnnouncementFilter) (int, []domain.Announcement, error) {
	where := filterConditions(f)

	countQuery, countArgs, err := psql.Select("COUNT(1)").From("announcements").Where(where).ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count announcements: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query, args, err := psql.
		Select("id", "title", "url", "date", "content", "ai_summary", "status", "source", "created_at", "updated_at").
		From("announcements").
		Where(where).
		OrderBy("date DESC", "id DESC").
		Limit(uint64(limit)).
		Offset(uint64(max(f.Offset, 0))).
		ToSql()
	if err != nil {
		return 0, nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("query announcements: %w", err)
	}
	defer rows.Close()

	var out []domain.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return 0, nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, fmt.Errorf("rows iteration: %w", err)
	}
	return total, out, nil
}

// Get loads one announcement by id.
func (r *AnnouncementRepository) Get(ctx context.Context, id int64) (domain.Announcement, error) {
	query, args, err := psql.
		Select("id", "title", "url", "date", "content", "ai_summary", "status", "source", "created_at", "updated_at").
		From("announcements").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("build get query: %w", err)
	}
	return scanAnnouncement(r.db.QueryRowContext(ctx, query, args...))
}

func filterConditions(f ports.AnnouncementFilter) sq.And {
	where := sq.And{}
	if f.Text != "" {
		like := "%" + f.Text + "%"
		where = append(where, sq.Or{sq.Like{"title": like}, sq.Like{"url": like}})
	}
	if f.DateFrom != "" {
		where = append(where, sq.GtOrEq{"date": f.DateFrom})
	}
	if f.DateTo != "" {
		where = append(where, sq.LtOrEq{"date": f.DateTo})
	}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": string(f.Status)})
	}
	switch f.Summary {
	case ports.SummaryEmpty:
		where = append(where, sq.Or{sq.Eq{"ai_summary": nil}, sq.Eq{"ai_summary": ""}})
	case ports.SummaryFailed:
		where = append(where, sq.Eq{"ai_summary": domain.SummaryFailed})
	case ports.SummaryOK:
		where = append(where,
			sq.NotEq{"ai_summary": nil},
			sq.NotEq{"ai_summary": ""},
			sq.NotEq{"ai_summary": domain.SummaryFailed},
		)
	}
	return where
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(row rowScanner) (domain.Announcement, error) {
	var (
		a                domain.Announcement
		content, summary sql.NullString
		status           string
		created, updated time.Time
	)
	err := row.Scan(&a.ID, &a.Title, &a.URL, &a.Date, &content, &summary, &status, &a.Source, &created, &updated)
	if err != nil {
		return domain.Announcement{}, fmt.Errorf("scan announcement: %w", err)
	}
	a.Content = content.String
	a.Summary = summary.String
	a.Status = domain.AnnouncementStatus(status)
	a.CreatedAt = created
	a.UpdatedAt = updated
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
