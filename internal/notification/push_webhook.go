package notification

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/safetynet-go/internal/httpclient"
)

const defaultWebhookTimeout = 30 * time.Second

// WebhookConfig configures a JSON webhook push provider.
type WebhookConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// Transport replaces the HTTP transport; tests install httpmock here.
	Transport http.RoundTripper
}

// WebhookPayload is the JSON body posted to the webhook. The tag lets the
// receiving push gateway collapse duplicates.
type WebhookPayload struct {
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Tag       string         `json:"tag"`
	Priority  string         `json:"priority"`
	Data      map[string]any `json:"data,omitzero"`
	Timestamp string         `json:"timestamp"`
}

// WebhookProvider posts push messages to an HTTP endpoint, typically a push
// gateway that forwards to the device.
type WebhookProvider struct {
	name   string
	url    string
	client *httpclient.Client
}

// NewWebhookProvider validates cfg and creates the provider.
func NewWebhookProvider(cfg WebhookConfig) (*WebhookProvider, error) {
	if err := validateEndpointURL(cfg.URL); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = "webhook"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &WebhookProvider{
		name: name,
		url:  cfg.URL,
		client: httpclient.New(&httpclient.Config{
			DefaultTimeout: timeout,
			UserAgent:      "SafetyNet-Go-Webhook/1.0",
			Headers:        maps.Clone(cfg.Headers),
			Transport:      cfg.Transport,
		}),
	}, nil
}

func validateEndpointURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("webhook URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("webhook URL scheme must be http or https, got %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("webhook URL host is required")
	}
	return nil
}

// Name returns the provider name.
func (w *WebhookProvider) Name() string { return w.name }

// Send posts msg. 4xx responses are not retried.
func (w *WebhookProvider) Send(ctx context.Context, msg PushMessage) error {
	payload := WebhookPayload{
		Title:     msg.Title,
		Body:      msg.Body,
		Tag:       msg.Tag,
		Priority:  string(msg.Priority),
		Data:      msg.Data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := w.client.PostJSON(ctx, w.url, payload); err != nil {
		return fmt.Errorf("webhook %s: %w", w.name, err)
	}
	return nil
}

// Close releases idle connections.
func (w *WebhookProvider) Close() {
	w.client.Close()
}
