package domain

import "time"

// ScheduleKind selects how a task is triggered.
type ScheduleKind string

const (
	ScheduleCron     ScheduleKind = "cron"
	ScheduleInterval ScheduleKind = "interval"
)

// Schedule is either a 5-field cron expression or a fixed interval
// measured from the previous completion.
type Schedule struct {
	Kind            ScheduleKind `json:"kind"`
	CronExpr        string       `json:"cronExpr,omitempty"`
	IntervalSeconds int          `json:"intervalSeconds,omitempty"`
}

// Task is a named, schedulable pipeline configuration. LastRunID is a
// non-owning back-reference to the most recent run.
type Task struct {
	TaskID    string
	Name      string
	Enabled   bool
	Schedule  Schedule
	Pipeline  PipelineConfig
	LastRunID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NotifyMode selects between one digest card per run and a card per item.
type NotifyMode string

const (
	NotifyDigest  NotifyMode = "digest"
	NotifyPerItem NotifyMode = "per_item"
)

// PipelineConfig carries everything one run needs to know. Tasks persist a
// complete config (JSON); the zero value means "use the deployment defaults".
type PipelineConfig struct {
	ListURL   string `json:"listUrl"`
	BaseURL   string `json:"baseUrl"`
	SourceTag string `json:"source,omitempty"`

	KeywordRegex  string `json:"keywordRegex"`
	KeywordsLabel string `json:"keywordsLabel,omitempty"`
	DaysLookback  int    `json:"daysLookback"`

	Dedupe         DedupeStrategy `json:"dedupeStrategy"`
	MaxItemsPerRun int            `json:"maxItemsPerRun"` // 0 = unlimited

	MaxPagesTotal       int `json:"maxPagesTotal"`
	MaxPagesPerCategory int `json:"maxPagesPerCategory"`

	LoopDelaySeconds         float64 `json:"loopDelaySeconds"`
	ThrottleThresholdPages   int     `json:"throttleThresholdPages"`
	ThrottleBatchSize        int     `json:"throttleBatchSize"`
	ThrottleIncrementSeconds float64 `json:"throttleIncrementSeconds"`
	ThrottleMaxDelaySeconds  float64 `json:"throttleMaxDelaySeconds"`

	HTTPRetryCount      int `json:"httpRetryCount"`
	HTTPRetryIntervalMS int `json:"httpRetryIntervalMs"`
	HTTPTimeoutMS       int `json:"httpTimeoutMs"`
	AIRetryCount        int `json:"aiRetryCount"`
	AIRetryIntervalMS   int `json:"aiRetryIntervalMs"`
	AITimeoutMS         int `json:"aiTimeoutMs"`

	NotifyMode  NotifyMode `json:"notifyMode"`
	DryRun      bool       `json:"dryRun"`
	UseFixtures bool       `json:"useFixtures,omitempty"`

	// RunID forces the ledger row id so the scheduler can key the live log
	// stream and the run by the same token. Empty means generate one.
	RunID string `json:"-"`
}

// IsZero reports whether the config was never populated, in which case the
// task falls back to the deployment defaults.
func (c PipelineConfig) IsZero() bool {
	return c.KeywordRegex == "" && c.ListURL == ""
}
