package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// AppriseChannel posts messages to an Apprise API server.
type AppriseChannel struct {
	name       string
	apiURL     string
	serviceURL string
	client     *http.Client
	logger     zerolog.Logger
}

// NewAppriseChannel creates a channel that notifies serviceURL (an Apprise
// service URL such as slack://...) through the Apprise API at apiURL.
// With no apiURL the message is only logged.
func NewAppriseChannel(name, apiURL, serviceURL string, logger zerolog.Logger) *AppriseChannel {
	return &AppriseChannel{
		name:       name,
		apiURL:     strings.TrimRight(apiURL, "/"),
		serviceURL: serviceURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Name returns "apprise:<name>".
func (a *AppriseChannel) Name() string {
	return "apprise:" + a.name
}

type apprisePayload struct {
	URLs   string `json:"urls,omitempty"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Type   string `json:"type"`
	Format string `json:"format"`
}

// Send posts msg to the Apprise API.
func (a *AppriseChannel) Send(ctx context.Context, msg Message) error {
	if a.apiURL == "" {
		a.logger.Info().
			Str("channel", a.name).
			Str("subject", msg.Subject).
			Msg("Would send notification (Apprise not configured)")
		return nil
	}

	payload := apprisePayload{
		URLs:   a.serviceURL,
		Title:  msg.Subject,
		Body:   msg.Body,
		Type:   appriseType(msg.Event),
		Format: "text",
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+"/notify/", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", redact(a.apiURL), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("apprise API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func appriseType(e Event) string {
	switch e {
	case EventNew:
		return "failure"
	case EventOngoing:
		return "warning"
	case EventClosed:
		return "success"
	default:
		return "info"
	}
}

// redact drops credentials from a URL before it is logged.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
