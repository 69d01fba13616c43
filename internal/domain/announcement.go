package domain

import "time"

// AnnouncementStatus enumerates the lifecycle of a harvested item.
type AnnouncementStatus string

const (
	StatusNew       AnnouncementStatus = "NEW"
	StatusProcessed AnnouncementStatus = "PROCESSED"
	StatusFailed    AnnouncementStatus = "FAILED"
)

// SummaryFailed is the sentinel stored when enrichment fails for an item.
// The exact string is load-bearing: the query surface filters on it.
const SummaryFailed = "AI 总结失败"

// Announcement is a single listing item persisted for dedup and audit.
// Date is a normalized calendar date (YYYY-MM-DD) in the configured zone.
type Announcement struct {
	ID        int64
	Title     string
	URL       string
	Date      string
	Content   string
	Summary   string
	Status    AnnouncementStatus
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ListItem is a raw (title, link, dateText) tuple from a listing page,
// before date normalization.
type ListItem struct {
	Title   string
	Link    string
	DateRaw string
}

// ListingPage is one fetched listing page. Items follow the site's legacy
// shapes and are assumed newest-first; Mixed items carry complete dates but
// arrive in no particular order, so different stop rules apply when paging.
type ListingPage struct {
	Items      []ListItem
	Mixed      []ListItem
	Categories []string
	NextPage   string
}

// DedupeStrategy selects the identity key for announcements.
type DedupeStrategy string

const (
	DedupeByTitle     DedupeStrategy = "title"
	DedupeByURL       DedupeStrategy = "url"
	DedupeByTitleDate DedupeStrategy = "title_date"
)

// ParseDedupeStrategy maps a config string to a strategy, defaulting to title.
func ParseDedupeStrategy(s string) DedupeStrategy {
	switch DedupeStrategy(s) {
	case DedupeByURL:
		return DedupeByURL
	case DedupeByTitleDate:
		return DedupeByTitleDate
	default:
		return DedupeByTitle
	}
}
