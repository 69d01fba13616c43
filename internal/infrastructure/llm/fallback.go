package llm

import (
	"context"
	"regexp"
	"strings"

	"TenderWatch/internal/ports"
)

var (
	reBudget   = regexp.MustCompile(`预算(?:金额)?[:：\s]*([0-9]+(?:\.[0-9]+)?\s*(?:万元|万|元|人民币|RMB)?)`)
	reDeadline = regexp.MustCompile(`(?:投标|报名)?截止(?:日期|时间)?[:：\s]*([0-9]{4}年[0-9]{1,2}月[0-9]{1,2}日\s*[0-9]{1,2}:[0-9]{2})`)
	rePhone    = regexp.MustCompile(`(\d{3,4}-\d{7,8}|1\d{10})`)
	reContact  = regexp.MustCompile(`联系人[:：\s]*([\p{Han}]{1,6})`)
)

const fallbackMaxChars = 200

// FallbackSummarizer extracts key fields by pattern when the AI summarizer
// is disabled. The goal is not perfect extraction; just something useful
// and stable.
type FallbackSummarizer struct{}

var _ ports.Summarizer = FallbackSummarizer{}

// NewFallbackSummarizer returns the pattern-based summarizer.
func NewFallbackSummarizer() FallbackSummarizer {
	return FallbackSummarizer{}
}

// Summarize never fails; it assembles whatever fields it can find.
func (FallbackSummarizer) Summarize(_ context.Context, title, content string) (string, error) {
	text := strings.Join(strings.Fields(content), " ")

	parts := []string{"项目名称：" + title}
	if m := reBudget.FindStringSubmatch(text); m != nil {
		parts = append(parts, "预算金额："+m[1])
	}
	if m := reDeadline.FindStringSubmatch(text); m != nil {
		parts = append(parts, "截止日期："+m[1])
	}
	if m := reContact.FindStringSubmatch(text); m != nil {
		parts = append(parts, "联系人："+m[1])
	}
	if m := rePhone.FindStringSubmatch(text); m != nil {
		parts = append(parts, "电话："+m[1])
	}

	out := strings.Join(parts, "\n")
	runes := []rune(out)
	if len(runes) > fallbackMaxChars {
		out = string(runes[:fallbackMaxChars-1]) + "…"
	}
	return out, nil
}
