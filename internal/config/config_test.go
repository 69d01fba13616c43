package config

import (
	"os"
	"path/filepath"
	"testing"

	"TenderWatch/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Pipeline.DaysLookback != 2 {
		t.Fatalf("unexpected default lookback %d", cfg.Pipeline.DaysLookback)
	}
	if cfg.Pipeline.DedupeStrategy != string(domain.DedupeByTitle) {
		t.Fatalf("unexpected default strategy %s", cfg.Pipeline.DedupeStrategy)
	}
	if cfg.Scheduler.Location().String() != "Asia/Shanghai" {
		t.Fatalf("unexpected timezone %s", cfg.Scheduler.Location())
	}
	if cfg.HTTP.RetryCount != 3 || cfg.AI.RetryCount != 2 {
		t.Fatalf("unexpected retry defaults: http=%d ai=%d", cfg.HTTP.RetryCount, cfg.AI.RetryCount)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
pipeline:
  keywordRegex: "(软件)"
  daysLookback: 7
feishu:
  webhookUrl: "https://open.feishu.cn/hook/from-file"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(configPathEnv, path)
	t.Setenv(feishuWebhookEnv, "https://open.feishu.cn/hook/from-env")
	t.Setenv(dryRunEnv, "true")
	t.Setenv(dedupeEnv, "title_date")

	cfg := Load()

	if cfg.Pipeline.KeywordRegex != "(软件)" {
		t.Fatalf("file override lost: %s", cfg.Pipeline.KeywordRegex)
	}
	if cfg.Pipeline.DaysLookback != 7 {
		t.Fatalf("file override lost: %d", cfg.Pipeline.DaysLookback)
	}
	if cfg.Feishu.WebhookURL != "https://open.feishu.cn/hook/from-env" {
		t.Fatalf("env must win over file: %s", cfg.Feishu.WebhookURL)
	}
	if !cfg.Pipeline.DryRun {
		t.Fatal("DRY_RUN env lost")
	}
	if cfg.Pipeline.DedupeStrategy != "title_date" {
		t.Fatalf("DEDUPE_STRATEGY env lost: %s", cfg.Pipeline.DedupeStrategy)
	}

	// Untouched keys keep their defaults.
	if cfg.Pipeline.MaxItemsPerRun != 50 {
		t.Fatalf("default lost after merge: %d", cfg.Pipeline.MaxItemsPerRun)
	}
}

func TestBasePipeline(t *testing.T) {
	cfg := defaultConfig()
	cfg.Pipeline.NotifyMode = "per_item"
	cfg.bindTimezone()

	base := cfg.BasePipeline()
	if base.Dedupe != domain.DedupeByTitle {
		t.Fatalf("unexpected strategy %s", base.Dedupe)
	}
	if base.NotifyMode != domain.NotifyPerItem {
		t.Fatalf("unexpected notify mode %s", base.NotifyMode)
	}
	if base.HTTPTimeoutMS != 30000 || base.AITimeoutMS != 60000 {
		t.Fatalf("timeouts not mapped: %d / %d", base.HTTPTimeoutMS, base.AITimeoutMS)
	}
	if base.ThrottleThresholdPages != 10 || base.ThrottleBatchSize != 50 {
		t.Fatalf("throttle not mapped: %+v", base)
	}
}
