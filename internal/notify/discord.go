package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
)

// DiscordChannel posts embeds to a Discord webhook.
type DiscordChannel struct {
	webhookURL string
	username   string
	enabled    bool
	client     *http.Client
}

// NewDiscordChannel creates a Discord webhook channel.
func NewDiscordChannel(webhookURL, username string) *DiscordChannel {
	return &DiscordChannel{
		webhookURL: webhookURL,
		username:   username,
		enabled:    webhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordChannel) Name() string    { return "discord" }
func (d *DiscordChannel) IsEnabled() bool { return d.enabled }

type discordEmbed struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description"`
	Color       int               `json:"color"`
	Timestamp   string            `json:"timestamp"`
	Footer      map[string]string `json:"footer,omitempty"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send posts the notification as a single embed.
func (d *DiscordChannel) Send(ctx context.Context, n Notification) error {
	if !d.enabled {
		return nil
	}

	username := n.Sender
	if username == "" {
		username = d.username
	}
	ts := n.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	payload := discordPayload{
		Username: username,
		Embeds: []discordEmbed{{
			Title:       n.Title,
			Description: n.Message,
			Color:       n.Type.Color(),
			Timestamp:   ts.Format(time.RFC3339),
			Footer:      map[string]string{"text": "fleet-trader"},
		}},
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("discord returned status: %d", resp.StatusCode)
	}
	return nil
}
