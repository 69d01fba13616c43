package ports

import (
	"context"

	"TenderWatch/internal/domain"
)

// Source fetches listing pages and detail content from the announcement
// site. Implementations do not retry; the pipeline wraps calls with its
// retry executor.
type Source interface {
	FetchListing(ctx context.Context, url string) (domain.ListingPage, error)
	FetchDetail(ctx context.Context, url string) (string, error)
}

// Summarizer produces a short summary for a fetched announcement.
type Summarizer interface {
	Summarize(ctx context.Context, title, content string) (string, error)
}

// Notifier delivers one of the closed card variants. Delivery failures are
// reported to the caller for logging; they never fail a run.
type Notifier interface {
	Send(ctx context.Context, card domain.Card) error
}

// SummaryState filters announcements by the state of their summary.
type SummaryState string

const (
	SummaryAny    SummaryState = ""
	SummaryEmpty  SummaryState = "empty"
	SummaryFailed SummaryState = "failed"
	SummaryOK     SummaryState = "ok"
)

// AnnouncementFilter is the query surface over persisted announcements.
type AnnouncementFilter struct {
	Text     string
	DateFrom string
	DateTo   string
	Status   domain.AnnouncementStatus
	Summary  SummaryState
	Limit    int
	Offset   int
}

// AnnouncementRepository is the dedup store plus the read surface for the
// presentation layer.
type AnnouncementRepository interface {
	// Exists checks the identity key chosen by strategy.
	Exists(ctx context.Context, a domain.Announcement, strategy domain.DedupeStrategy) (bool, error)
	// InsertIfAbsent inserts atomically; a uniqueness conflict means
	// "already known" and reports inserted=false, not an error.
	InsertIfAbsent(ctx context.Context, a domain.Announcement) (id int64, inserted bool, err error)
	UpdateDetail(ctx context.Context, id int64, content, summary string, status domain.AnnouncementStatus) error
	Query(ctx context.Context, f AnnouncementFilter) (total int, rows []domain.Announcement, err error)
	Get(ctx context.Context, id int64) (domain.Announcement, error)
}

// RunRepository is the audit ledger of pipeline executions.
type RunRepository interface {
	// Create opens a RUNNING row; runID may be empty to generate one.
	Create(ctx context.Context, runID string) (domain.Run, error)
	// Finalize closes the row exactly once with the terminal outcome.
	Finalize(ctx context.Context, run domain.Run) error
	List(ctx context.Context, limit, offset int) (total int, rows []domain.Run, err error)
	Get(ctx context.Context, runID string) (domain.Run, error)
}

// TaskRepository persists schedulable task definitions.
type TaskRepository interface {
	List(ctx context.Context) ([]domain.Task, error)
	Get(ctx context.Context, taskID string) (domain.Task, error)
	Upsert(ctx context.Context, task domain.Task) error
	SetEnabled(ctx context.Context, taskID string, enabled bool) error
	Delete(ctx context.Context, taskID string) error
	SetLastRun(ctx context.Context, taskID, runID string) error
}
