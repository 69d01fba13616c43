package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"TenderWatch/internal/domain"
	"TenderWatch/internal/ports"
	"TenderWatch/internal/retry"
)

// webhook deliveries get a short internal retry; a failure after that is
// reported to the caller for logging and has no effect on the run.
var sendRetry = retry.Spec{
	Attempts: 2,
	Interval: time.Second,
	Timeout:  10 * time.Second,
}

// Notifier delivers the closed card set to a Feishu group webhook.
type Notifier struct {
	webhookURL string
	webuiURL   string
	imageURL   string
	client     *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers the webhook plus optional digest decorations.
func NewNotifier(webhookURL, webuiURL, imageURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		webuiURL:   webuiURL,
		imageURL:   imageURL,
		client:     &http.Client{},
	}
}

// Send renders the card variant and posts it. Digest cards may expand into
// several webhook messages.
func (n *Notifier) Send(ctx context.Context, c domain.Card) error {
	if n.webhookURL == "" {
		return fmt.Errorf("feishu notifier misconfigured")
	}

	switch v := c.(type) {
	case domain.NewItemCard:
		return n.post(ctx, newItemCard(v))
	case domain.SummaryCard:
		return n.post(ctx, summaryCard(v))
	case domain.ErrorCard:
		return n.post(ctx, errorCard(v))
	case domain.DigestCard:
		for _, payload := range digestCards(v, n.webuiURL, n.imageURL) {
			if err := n.post(ctx, payload); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown card variant %T", c)
	}
}

func (n *Notifier) post(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}

	return retry.Do(ctx, sendRetry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return fmt.Errorf("send card: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return fmt.Errorf("feishu error %s: %s", resp.Status, strings.TrimSpace(string(detail)))
		}
		return nil
	})
}
