package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"TenderWatch/internal/app"
	"TenderWatch/internal/config"
	"TenderWatch/internal/domain"
	"TenderWatch/internal/logging"
)

func main() {
	once := flag.Bool("once", false, "run a single pipeline execution and exit")
	flag.Parse()

	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level, cfg.Logging.JSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	if *once {
		run, err := application.RunOnce(ctx)
		if err != nil || run.Status == domain.RunFailed {
			logger.Error("run failed", "run_id", run.RunID, "error", err)
			os.Exit(1)
		}
		return
	}

	if err := application.Run(ctx); err != nil {
		logger.Error("application stopped", "error", err)
		os.Exit(1)
	}
}
