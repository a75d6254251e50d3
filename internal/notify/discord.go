package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/edgefinder/internal/platform/httpx"
)

// DiscordSender delivers notifications via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	http       *httpx.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string, policy httpx.RetryPolicy, logger *slog.Logger) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		http:       httpx.NewClient(policy, nil, logger),
	}
}

// Send posts the message with the title in bold.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	}
	// Discord answers 204 No Content.
	if err := d.http.PostJSON(ctx, d.webhookURL, payload, nil, nil); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
