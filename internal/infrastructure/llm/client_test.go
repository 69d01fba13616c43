package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"TenderWatch/internal/config"
)

func TestClientSummarize(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "公告正文") {
			t.Errorf("content missing from prompt: %q", req.Messages[1].Content)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": " 项目摘要。 "}},
			},
		})
	}))
	defer server.Close()

	c := NewClient(config.AIConfig{BaseURL: server.URL, Model: "test-model", APIKey: "test-key"})
	got, err := c.Summarize(context.Background(), "标题", "公告正文")
	if err != nil {
		t.Fatalf("Summarize error: %v", err)
	}
	if got != "项目摘要。" {
		t.Fatalf("unexpected summary %q", got)
	}
}

func TestClientSummarizeErrors(t *testing.T) {
	t.Parallel()

	t.Run("misconfigured", func(t *testing.T) {
		t.Parallel()
		c := NewClient(config.AIConfig{})
		if _, err := c.Summarize(context.Background(), "t", "c"); err == nil {
			t.Fatal("expected error without credentials")
		}
	})

	t.Run("http error", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer server.Close()

		c := NewClient(config.AIConfig{BaseURL: server.URL, Model: "m", APIKey: "k"})
		if _, err := c.Summarize(context.Background(), "t", "c"); err == nil {
			t.Fatal("expected error for 429 response")
		}
	})

	t.Run("no choices", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"choices":[]}`))
		}))
		defer server.Close()

		c := NewClient(config.AIConfig{BaseURL: server.URL, Model: "m", APIKey: "k"})
		if _, err := c.Summarize(context.Background(), "t", "c"); err == nil {
			t.Fatal("expected error for empty choices")
		}
	})
}

func TestCompactText(t *testing.T) {
	t.Parallel()

	if got := CompactText("  a \n\n b\tc  ", 0); got != "a b c" {
		t.Fatalf("unexpected compaction %q", got)
	}
	if got := CompactText("一二三四五", 3); got != "一二三" {
		t.Fatalf("expected rune-wise truncation, got %q", got)
	}
}

func TestFallbackSummarizer(t *testing.T) {
	t.Parallel()

	content := `发布时间：2026-08-20
	项目名称：某单位办公系统升级采购项目
	预算金额：120.5万元
	投标截止时间：2026年9月10日 09:30
	联系人：王工
	电话：010-12345678`

	got, err := NewFallbackSummarizer().Summarize(context.Background(), "某单位办公系统升级采购项目公告", content)
	if err != nil {
		t.Fatalf("fallback must not fail: %v", err)
	}

	for _, want := range []string{
		"项目名称：某单位办公系统升级采购项目公告",
		"预算金额：120.5万元",
		"截止日期：2026年9月10日 09:30",
		"联系人：王工",
		"电话：010-12345678",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("summary missing %q:\n%s", want, got)
		}
	}
}

func TestFallbackSummarizerSparseContent(t *testing.T) {
	t.Parallel()

	got, err := NewFallbackSummarizer().Summarize(context.Background(), "标题", "没有任何结构化字段的正文")
	if err != nil {
		t.Fatalf("fallback must not fail: %v", err)
	}
	if got != "项目名称：标题" {
		t.Fatalf("unexpected sparse summary %q", got)
	}
}
