package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"TenderWatch/internal/config"
	"TenderWatch/internal/ports"
)

// maxPromptChars bounds the announcement text passed to the model after
// whitespace compaction.
const maxPromptChars = 4000

const systemPrompt = "你是一个专业的招投标分析助手。"

// Client implements ports.Summarizer against OpenAI-compatible chat APIs.
type Client struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	httpClient  *http.Client
}

var _ ports.Summarizer = (*Client)(nil)

// NewClient builds a client from configuration. Per-call deadlines come
// from the context; the pipeline drives retries.
func NewClient(cfg config.AIConfig) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Summarize asks the model for a compact digest of one announcement.
func (c *Client) Summarize(ctx context.Context, _ string, content string) (string, error) {
	if c.apiKey == "" || c.baseURL == "" || c.model == "" {
		return "", fmt.Errorf("summarizer misconfigured")
	}

	clean := CompactText(content, maxPromptChars)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt(clean)},
		},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("summarizer error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("summarizer returned no choices")
	}
	text := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("summarizer returned empty content")
	}
	return text, nil
}

func userPrompt(content string) string {
	return "请总结以下公告内容。\n\n" +
		"公告原文：" + content + "\n\n" +
		"要求：\n" +
		"1. 提取项目名称、预算金额、截止日期、关键联系人（如有）。\n" +
		"2. 总结核心需求。\n" +
		"3. 输出格式简洁，字数控制在200字以内。"
}

// CompactText collapses whitespace runs and truncates to max runes.
func CompactText(s string, max int) string {
	clean := strings.Join(strings.Fields(s), " ")
	runes := []rune(clean)
	if max > 0 && len(runes) > max {
		return string(runes[:max])
	}
	return clean
}
