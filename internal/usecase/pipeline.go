package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/ports"
	"TenderWatch/internal/retry"
	"TenderWatch/internal/throttle"
	"TenderWatch/internal/timeutil"
)

// ErrCancelled marks a run stopped at a cooperative checkpoint; the ledger
// records it as FAILED with the distinct "cancelled" reason.
var ErrCancelled = errors.New("cancelled")

// maxErrorChars bounds the error summary stored on a run row.
const maxErrorChars = 4000

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source        ports.Source
	Announcements ports.AnnouncementRepository
	Runs          ports.RunRepository
	Summarizer    ports.Summarizer
	Notifier      ports.Notifier
	Logger        *slog.Logger
	Location      *time.Location
}

// Pipeline implements one crawl-dedup-notify run end to end. Item
// processing is strictly sequential within a run; concurrency lives at the
// task level only, out of respect for the source's informal rate limits.
type Pipeline struct {
	source        ports.Source
	announcements ports.AnnouncementRepository
	runs          ports.RunRepository
	summarizer    ports.Summarizer
	notifier      ports.Notifier
	logger        *slog.Logger
	loc           *time.Location
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Pipeline{
		source:        deps.Source,
		announcements: deps.Announcements,
		runs:          deps.Runs,
		summarizer:    deps.Summarizer,
		notifier:      deps.Notifier,
		logger:        logger,
		loc:           loc,
	}
}

// WithLogger returns a copy of the pipeline bound to another logger; the
// scheduler uses it to tee run logs into the live stream.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	out := *p
	if logger != nil {
		out.logger = logger
	}
	return &out
}

// runState accumulates one run's counters and queued notifications.
type runState struct {
	processed  int
	newCount   int
	duplicates int
	itemErrors []string
	digest     []domain.DigestItem
}

// Execute performs one run: open the ledger row, collect and classify
// items, enrich and notify, and finalize the row exactly once. Cancellation
// of ctx is honored between pages and between items.
func (p *Pipeline) Execute(ctx context.Context, cfg domain.PipelineConfig) (domain.Run, error) {
	start := time.Now()
	log := p.logger

	log.Info("run.start",
		"list_url", cfg.ListURL,
		"days_lookback", cfg.DaysLookback,
		"dedupe_strategy", string(cfg.Dedupe),
		"max_items", cfg.MaxItemsPerRun,
		"dry_run", cfg.DryRun,
		"notify_mode", string(cfg.NotifyMode),
	)

	run, err := p.runs.Create(ctx, cfg.RunID)
	if err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}

	st := &runState{}
	procErr := p.process(ctx, cfg, st, log)

	run.FinishedAt = time.Now()
	run.DurationSeconds = int(run.FinishedAt.Sub(start).Round(time.Second) / time.Second)
	run.TotalProcessed = st.processed
	run.TotalNew = st.newCount
	run.TotalDuplicate = st.duplicates

	switch {
	case procErr == nil:
		run.Status = domain.RunCompleted
		run.Error = truncate(strings.Join(st.itemErrors, "\n"), maxErrorChars)
	case isCancelled(procErr):
		run.Status = domain.RunFailed
		run.Error = "cancelled"
	default:
		run.Status = domain.RunFailed
		run.Error = truncate(procErr.Error(), maxErrorChars)
	}

	// Finalization and terminal notifications must survive the cancelled
	// context of a stopped run.
	tailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := p.runs.Finalize(tailCtx, run); err != nil {
		log.Error("run.finalize_failed", "run_id", run.RunID, "error", err)
		if procErr == nil {
			procErr = fmt.Errorf("finalize run: %w", err)
		}
	}

	p.notifyRunEnd(tailCtx, cfg, run, st, procErr, log)

	if procErr != nil {
		log.Error("run.failed",
			"run_id", run.RunID,
			"duration_seconds", run.DurationSeconds,
			"error", run.Error,
		)
		return run, procErr
	}

	log.Info("run.completed",
		"run_id", run.RunID,
		"duration_seconds", run.DurationSeconds,
		"total_processed", run.TotalProcessed,
		"total_new", run.TotalNew,
		"total_duplicate", run.TotalDuplicate,
		"item_errors", len(st.itemErrors),
	)
	return run, nil
}

func (p *Pipeline) process(ctx context.Context, cfg domain.PipelineConfig, st *runState, log *slog.Logger) error {
	keyword, err := regexp.Compile(cfg.KeywordRegex)
	if err != nil {
		return fmt.Errorf("compile keyword pattern %q: %w", cfg.KeywordRegex, err)
	}

	lookback := cfg.DaysLookback
	if lookback < 1 {
		lookback = 1
	}
	today := timeutil.Today(p.loc)
	earliestKeep := timeutil.DaysBefore(today, lookback-1)

	httpRetry := retry.Spec{
		Attempts: cfg.HTTPRetryCount,
		Interval: time.Duration(cfg.HTTPRetryIntervalMS) * time.Millisecond,
		Timeout:  time.Duration(cfg.HTTPTimeoutMS) * time.Millisecond,
	}
	aiRetry := retry.Spec{
		Attempts: cfg.AIRetryCount,
		Interval: time.Duration(cfg.AIRetryIntervalMS) * time.Millisecond,
		Timeout:  time.Duration(cfg.AITimeoutMS) * time.Millisecond,
	}

	col, err := p.collect(ctx, cfg, httpRetry, earliestKeep, log)
	if err != nil {
		return err
	}
	if len(col.items) == 0 {
		log.Warn("run.no_items")
		return nil
	}

	now := time.Now().In(p.loc)
	var normalized []domain.ListItem
	for _, it := range col.items {
		d := timeutil.NormalizeDate(it.DateRaw, now)
		if d == "" {
			continue
		}
		normalized = append(normalized, domain.ListItem{Title: it.Title, Link: it.Link, DateRaw: d})
	}

	// Fixture pages carry fixed dates; anchor the window at the newest one
	// so offline runs stay reproducible.
	base := today
	if cfg.UseFixtures {
		anchor := ""
		for _, it := range normalized {
			if it.DateRaw > anchor {
				anchor = it.DateRaw
			}
		}
		if anchor != "" {
			base = anchor
		}
	}

	allowed := make(map[string]bool, lookback)
	for i := 0; i < lookback; i++ {
		allowed[timeutil.DaysBefore(base, i)] = true
	}

	var filtered []domain.ListItem
	for _, it := range normalized {
		if !allowed[it.DateRaw] {
			continue
		}
		if !keyword.MatchString(it.Title) {
			continue
		}
		filtered = append(filtered, it)
	}
	log.Info("filter.result",
		"candidates", len(col.items),
		"normalized", len(normalized),
		"matched", len(filtered),
	)

	ctrl := throttle.New(throttle.Config{
		Baseline:       secondsToDuration(cfg.LoopDelaySeconds),
		ThresholdPages: cfg.ThrottleThresholdPages,
		BatchSize:      cfg.ThrottleBatchSize,
		Increment:      secondsToDuration(cfg.ThrottleIncrementSeconds),
		MaxDelay:       secondsToDuration(cfg.ThrottleMaxDelaySeconds),
	}, col.pageTurns)
	if ctrl.Throttled() {
		log.Info("throttle.enabled",
			"page_turns", col.pageTurns,
			"threshold", cfg.ThrottleThresholdPages,
			"batch_size", cfg.ThrottleBatchSize,
		)
	}

	maxItems := cfg.MaxItemsPerRun
	if maxItems < 0 {
		maxItems = 0
	}

	for idx, it := range filtered {
		if maxItems > 0 && idx >= maxItems {
			break
		}
		if err := checkpoint(ctx); err != nil {
			return err
		}
		if idx > 0 {
			if err := sleep(ctx, ctrl.Delay()); err != nil {
				return err
			}
		}

		ann := domain.Announcement{
			Title:  it.Title,
			URL:    absoluteURL(cfg.BaseURL, it.Link),
			Date:   it.DateRaw,
			Status: domain.StatusNew,
			Source: sourceTag(cfg),
		}

		exists, err := p.announcements.Exists(ctx, ann, cfg.Dedupe)
		if err != nil {
			return fmt.Errorf("dedup lookup: %w", err)
		}
		if exists {
			st.duplicates++
			st.processed++
			log.Debug("item.duplicate", "title", ann.Title, "date", ann.Date)
			continue
		}

		st.newCount++
		st.processed++
		log.Info("item.new", "title", ann.Title, "date", ann.Date)

		if cfg.DryRun {
			log.Info("item.skip_dry_run", "title", ann.Title)
			continue
		}

		id, inserted, err := p.announcements.InsertIfAbsent(ctx, ann)
		if err != nil {
			return fmt.Errorf("insert announcement: %w", err)
		}
		if !inserted {
			// Lost the insert race to a concurrent task: reclassify.
			st.newCount--
			st.duplicates++
			log.Info("item.race_duplicate", "title", ann.Title)
			continue
		}

		if err := p.enrich(ctx, cfg, httpRetry, aiRetry, id, ann, st, log); err != nil {
			return err
		}

		ctrl.Observe(st.processed)
	}

	return nil
}

// enrich fetches detail content, summarizes, persists the final item state
// and queues or sends its notification. Item-level failures are recorded
// and swallowed; only store errors and cancellation abort the run.
func (p *Pipeline) enrich(ctx context.Context, cfg domain.PipelineConfig, httpRetry, aiRetry retry.Spec, id int64, ann domain.Announcement, st *runState, log *slog.Logger) error {
	content, err := retry.DoValue(ctx, httpRetry, func(ctx context.Context) (string, error) {
		return p.source.FetchDetail(ctx, ann.URL)
	})
	if err != nil {
		if isCancelled(err) {
			return err
		}
		st.itemErrors = append(st.itemErrors, fmt.Sprintf("item_failed: %s: %v", ann.Title, err))
		log.Warn("item.failed", "title", ann.Title, "error", err)
		if uerr := p.announcements.UpdateDetail(ctx, id, "", "", domain.StatusFailed); uerr != nil {
			return fmt.Errorf("mark item failed: %w", uerr)
		}
		return nil
	}
	log.Debug("detail.fetched", "title", ann.Title, "content_len", len(content))

	summary := domain.SummaryFailed
	if content != "" && p.summarizer != nil {
		s, serr := retry.DoValue(ctx, aiRetry, func(ctx context.Context) (string, error) {
			return p.summarizer.Summarize(ctx, ann.Title, content)
		})
		switch {
		case serr == nil:
			summary = s
		case isCancelled(serr):
			return serr
		default:
			log.Warn("summary.failed", "title", ann.Title, "error", serr)
		}
	}
	log.Debug("item.summarized", "title", ann.Title, "summary_len", len(summary))

	if err := p.announcements.UpdateDetail(ctx, id, content, summary, domain.StatusProcessed); err != nil {
		return fmt.Errorf("persist item: %w", err)
	}

	if p.notifier == nil {
		return nil
	}
	if cfg.NotifyMode == domain.NotifyPerItem {
		card := domain.NewItemCard{Title: ann.Title, Date: ann.Date, Summary: summary, URL: ann.URL}
		if nerr := p.notifier.Send(ctx, card); nerr != nil {
			st.itemErrors = append(st.itemErrors, fmt.Sprintf("notify_failed: %s", ann.Title))
			log.Warn("notify.item_failed", "title", ann.Title, "error", nerr)
		} else {
			log.Info("notify.sent_item", "title", ann.Title)
		}
		return nil
	}
	st.digest = append(st.digest, domain.DigestItem{
		Title:   ann.Title,
		Date:    ann.Date,
		Summary: summary,
		URL:     ann.URL,
	})
	return nil
}

// collection is the raw outcome of listing pagination.
type collection struct {
	items     []domain.ListItem
	pagesSeen int
	pageTurns int
}

// collect walks the start page plus discovered category pages, following
// pagination until the page caps are hit or a page falls entirely outside
// the lookback window. Any listing fetch that exhausts its retries is
// fatal to the run.
func (p *Pipeline) collect(ctx context.Context, cfg domain.PipelineConfig, httpRetry retry.Spec, earliestKeep string, log *slog.Logger) (collection, error) {
	fetch := func(pageURL string) (domain.ListingPage, error) {
		return retry.DoValue(ctx, httpRetry, func(ctx context.Context) (domain.ListingPage, error) {
			return p.source.FetchListing(ctx, pageURL)
		})
	}

	var col collection

	start, err := fetch(cfg.ListURL)
	if err != nil {
		if isCancelled(err) {
			return col, err
		}
		return col, fmt.Errorf("fetch listing %s: %w", cfg.ListURL, err)
	}
	col.pagesSeen = 1
	col.items = appendPageItems(col.items, start)
	log.Info("list.fetch", "url", cfg.ListURL)

	maxTotal := cfg.MaxPagesTotal
	if maxTotal < 1 {
		maxTotal = 1
	}
	maxPerCategory := cfg.MaxPagesPerCategory
	if maxPerCategory < 1 {
		maxPerCategory = 1
	}

	seen := map[string]bool{cfg.ListURL: true}
	queue := append([]string{}, start.Categories...)
	log.Debug("list.discover_categories", "count", len(queue))

	pageDelay := secondsToDuration(cfg.LoopDelaySeconds)

	for len(queue) > 0 && col.pagesSeen < maxTotal {
		if err := checkpoint(ctx); err != nil {
			return col, err
		}

		categoryURL := queue[0]
		queue = queue[1:]
		if seen[categoryURL] {
			continue
		}
		seen[categoryURL] = true

		var categoryRoot domain.ListingPage
		pageURL := categoryURL
		for pageIdx := 1; pageIdx <= maxPerCategory && col.pagesSeen < maxTotal; pageIdx++ {
			if err := checkpoint(ctx); err != nil {
				return col, err
			}
			if err := sleep(ctx, pageDelay); err != nil {
				return col, err
			}

			page, err := fetch(pageURL)
			if err != nil {
				if isCancelled(err) {
					return col, err
				}
				return col, fmt.Errorf("fetch category page %s: %w", pageURL, err)
			}
			col.pagesSeen++
			col.items = appendPageItems(col.items, page)
			log.Debug("category.fetch", "url", pageURL, "page", pageIdx)

			if pageIdx == 1 {
				categoryRoot = page
			}

			if pageOutsideWindow(page, earliestKeep) {
				log.Debug("category.stop_old", "url", pageURL, "earliest_keep", earliestKeep)
				break
			}

			next := page.NextPage
			if next == "" || seen[next] {
				break
			}
			log.Debug("category.next_page", "from_url", pageURL, "to_url", next)
			seen[next] = true
			pageURL = next
			col.pageTurns++
		}

		// Keep discovering deeper levels, but only from the category root.
		for _, u := range categoryRoot.Categories {
			if !seen[u] {
				queue = append(queue, u)
			}
		}
	}

	col.items = dedupeRawItems(col.items)
	log.Info("list.collected",
		"items", len(col.items),
		"pages", col.pagesSeen,
		"page_turns", col.pageTurns,
	)
	return col, nil
}

func (p *Pipeline) notifyRunEnd(ctx context.Context, cfg domain.PipelineConfig, run domain.Run, st *runState, procErr error, log *slog.Logger) {
	if p.notifier == nil {
		return
	}

	execTime := run.StartedAt.In(p.loc).Format("2006-01-02 15:04:05")

	if procErr != nil && !isCancelled(procErr) {
		card := domain.ErrorCard{
			Timestamp: run.FinishedAt.In(p.loc).Format("2006-01-02 15:04:05"),
			Message:   run.Error,
		}
		if err := p.notifier.Send(ctx, card); err != nil {
			log.Warn("notify.error_card_failed", "error", err)
		}
		return
	}

	if run.TotalNew == 0 {
		return
	}

	if cfg.NotifyMode == domain.NotifyDigest {
		// A cancelled run still flushes whatever was queued.
		if len(st.digest) == 0 {
			return
		}
		label := cfg.KeywordsLabel
		if label == "" {
			label = cfg.KeywordRegex
		}
		card := domain.DigestCard{
			KeywordLabel:   label,
			ExecutionTime:  execTime,
			DurationSecs:   run.DurationSeconds,
			TotalNew:       run.TotalNew,
			TotalDuplicate: run.TotalDuplicate,
			TotalProcessed: run.TotalProcessed,
			DaysLookback:   cfg.DaysLookback,
			Items:          st.digest,
		}
		if err := p.notifier.Send(ctx, card); err != nil {
			log.Warn("notify.digest_failed", "error", err)
		}
		return
	}

	if procErr != nil {
		return
	}
	card := domain.SummaryCard{
		ExecutionTime:  execTime,
		DurationSecs:   run.DurationSeconds,
		TotalProcessed: run.TotalProcessed,
		TotalNew:       run.TotalNew,
		TotalDuplicate: run.TotalDuplicate,
	}
	if err := p.notifier.Send(ctx, card); err != nil {
		log.Warn("notify.summary_failed", "error", err)
	}
}

func appendPageItems(items []domain.ListItem, page domain.ListingPage) []domain.ListItem {
	items = append(items, page.Items...)
	return append(items, page.Mixed...)
}

// pageOutsideWindow decides whether paging can stop: ordered pages stop as
// soon as their oldest date predates the window, unordered (Mixed) pages
// only once every date does.
func pageOutsideWindow(page domain.ListingPage, earliestKeep string) bool {
	if len(page.Mixed) > 0 {
		newest := ""
		for _, it := range page.Mixed {
			if isISODate(it.DateRaw) && it.DateRaw > newest {
				newest = it.DateRaw
			}
		}
		return newest != "" && newest < earliestKeep
	}

	oldest := ""
	for _, it := range page.Items {
		if !isISODate(it.DateRaw) {
			continue
		}
		if oldest == "" || it.DateRaw < oldest {
			oldest = it.DateRaw
		}
	}
	return oldest != "" && oldest < earliestKeep
}

var isoDateExpr = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

func isISODate(s string) bool {
	return isoDateExpr.MatchString(s)
}

func dedupeRawItems(items []domain.ListItem) []domain.ListItem {
	seen := make(map[domain.ListItem]struct{}, len(items))
	out := make([]domain.ListItem, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func absoluteURL(baseURL, link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}

func sourceTag(cfg domain.PipelineConfig) string {
	if cfg.SourceTag != "" {
		return cfg.SourceTag
	}
	if u, err := url.Parse(cfg.BaseURL); err == nil && u.Host != "" {
		return u.Host
	}
	return cfg.BaseURL
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

func checkpoint(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	default:
		return nil
	}
}

func isCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
