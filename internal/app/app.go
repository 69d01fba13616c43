package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"TenderWatch/internal/config"
	"TenderWatch/internal/domain"
	"TenderWatch/internal/infrastructure/feishu"
	"TenderWatch/internal/infrastructure/llm"
	"TenderWatch/internal/infrastructure/storage"
	"TenderWatch/internal/infrastructure/webparser"
	"TenderWatch/internal/logging"
	"TenderWatch/internal/logstream"
	"TenderWatch/internal/ports"
	"TenderWatch/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	db       *sql.DB
	pipeline *usecase.Pipeline
	registry *usecase.Registry
	logger   *slog.Logger
}

// New builds a runnable application instance: storage, adapters, pipeline
// and scheduler.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	}

	db, err := storage.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	strategy := domain.ParseDedupeStrategy(cfg.Pipeline.DedupeStrategy)
	if err := storage.InitSchema(ctx, db, strategy); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	var source ports.Source
	if cfg.Site.UseFixtures {
		source = webparser.NewFixtureSource(cfg.Site.FixturesDir)
		baseLogger.Info("source.fixtures", "dir", cfg.Site.FixturesDir)
	} else {
		httpClient := &http.Client{Timeout: time.Duration(cfg.HTTP.TimeoutMS) * time.Millisecond}
		source = webparser.NewWebSource(httpClient, cfg.Site.UserAgent, cfg.Site.BaseURL)
	}

	var summarizer ports.Summarizer
	switch {
	case cfg.AI.Disabled:
		summarizer = llm.NewFallbackSummarizer()
		baseLogger.Info("summarizer.fallback")
	default:
		summarizer = llm.NewClient(cfg.AI)
	}

	var notifier ports.Notifier
	if cfg.Feishu.WebhookURL != "" {
		notifier = feishu.NewNotifier(cfg.Feishu.WebhookURL, cfg.WebUI.PublicURL, cfg.Feishu.CardImageURL)
	} else {
		baseLogger.Info("notifier.disabled")
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Source:        source,
		Announcements: storage.NewAnnouncementRepository(db),
		Runs:          storage.NewRunRepository(db),
		Summarizer:    summarizer,
		Notifier:      notifier,
		Logger:        baseLogger.With("component", "pipeline"),
		Location:      cfg.Scheduler.Location(),
	})

	registry := usecase.NewRegistry(usecase.RegistryDeps{
		Tasks:    storage.NewTaskRepository(db),
		Pipeline: pipeline,
		Broker:   logstream.NewBroker(),
		Logger:   baseLogger.With("component", "scheduler"),
		Location: cfg.Scheduler.Location(),
		Tick:     cfg.Scheduler.Tick(),
		Defaults: cfg.BasePipeline(),
	})

	return &Application{
		cfg:      cfg,
		db:       db,
		pipeline: pipeline,
		registry: registry,
		logger:   baseLogger,
	}, nil
}

// Registry exposes the task registry for presentation layers.
func (a *Application) Registry() *usecase.Registry {
	return a.registry
}

// Run drives the scheduler loop until ctx is cancelled, waiting for
// in-flight runs to unwind before returning.
func (a *Application) Run(ctx context.Context) error {
	return a.registry.Run(ctx)
}

// RunOnce performs a single pipeline execution with the deployment
// defaults, outside the scheduler.
func (a *Application) RunOnce(ctx context.Context) (domain.Run, error) {
	return a.pipeline.Execute(ctx, a.cfg.BasePipeline())
}

// Close releases held resources.
func (a *Application) Close() error {
	return a.db.Close()
}
