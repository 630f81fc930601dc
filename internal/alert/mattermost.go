package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Mattermost posts alerts to an incoming webhook.
type Mattermost struct {
	url    string
	client *http.Client
}

// NewMattermost creates a webhook sink. A nil client uses http.DefaultClient;
// the per-message deadline comes from the context.
func NewMattermost(webhookURL string, client *http.Client) *Mattermost {
	if client == nil {
		client = http.DefaultClient
	}
	return &Mattermost{url: webhookURL, client: client}
}

// Send posts the message as a form-encoded "payload" field holding
// {"text": msg}, which is what the webhook expects.
func (m *Mattermost) Send(ctx context.Context, msg string) error {
	payload, err := json.Marshal(map[string]string{"text": msg})
	if err != nil {
		return fmt.Errorf("mattermost: encode: %w", err)
	}
	form := url.Values{"payload": {string(payload)}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("mattermost: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mattermost: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mattermost: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// ReadURLFile reads a webhook URL from path. A leading "~/" is expanded
// to the user's home directory.
func ReadURLFile(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("mattermost url: %w", err)
		}
		path = filepath.Join(home, rest)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("mattermost url: %w", err)
	}
	u := strings.TrimSpace(string(data))
	if u == "" {
		return "", fmt.Errorf("mattermost url: %s is empty", path)
	}
	return u, nil
}
