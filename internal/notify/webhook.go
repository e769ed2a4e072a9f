package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"sitewatch/internal/store"
)

type FeedCardLink struct {
	Title      string `json:"title"`
	MessageURL string `json:"messageURL"`
	PicURL     string `json:"picURL"`
}

type FeedCardPayload struct {
	MsgType  string `json:"msgtype"`
	FeedCard struct {
		Links []FeedCardLink `json:"links"`
	} `json:"feedCard"`
}

type webhookResponse struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// BuildFeedCard renders the digest as a feed-card payload, one link per
// matched page.
func BuildFeedCard(d Digest) FeedCardPayload {
	payload := FeedCardPayload{MsgType: "feedCard"}
	for _, item := range d.Items {
		title := item.Title
		if len(item.Phrases) > 0 {
			title = fmt.Sprintf("[%s] %s", item.Phrases[0], item.Title)
		}
		payload.FeedCard.Links = append(payload.FeedCard.Links, FeedCardLink{
			Title:      title,
			MessageURL: item.URL,
			PicURL:     item.ImageURL,
		})
	}
	return payload
}

// WebhookSender posts digests to the stored group-bot webhook URL. A task
// target, when set, overrides the global URL.
type WebhookSender struct {
	settings store.SettingsStore
	client   *http.Client
	logger   *zap.Logger
}

// NewWebhookSender constructs the webhook delivery channel.
func NewWebhookSender(settings store.SettingsStore, logger *zap.Logger) *WebhookSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSender{
		settings: settings,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// Send posts the digest. The bot API reports failures in the response body
// with a 200 status, so the errcode field is checked too.
func (s *WebhookSender) Send(ctx context.Context, target string, d Digest) error {
	url := target
	if url == "" {
		stored, err := s.settings.WebhookURL(ctx)
		if err != nil {
			return fmt.Errorf("load webhook url: %w", err)
		}
		url = stored
	}
	if url == "" {
		return ErrNotConfigured
	}

	body, err := json.Marshal(BuildFeedCard(d))
	if err != nil {
		return fmt.Errorf("marshal feed card: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}

	var result webhookResponse
	if err := json.Unmarshal(raw, &result); err == nil && result.ErrCode != 0 {
		return fmt.Errorf("webhook rejected: errcode=%d errmsg=%s", result.ErrCode, result.ErrMsg)
	}
	return nil
}
