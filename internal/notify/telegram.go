package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/edgefinder/internal/platform/httpx"
)

// DefaultTelegramAPI is the Bot API root.
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSender delivers notifications via the Telegram Bot API.
type TelegramSender struct {
	url    string
	token  string
	chatID string
	http   *httpx.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. An empty apiURL uses DefaultTelegramAPI.
func NewTelegramSender(apiURL, token, chatID string, policy httpx.RetryPolicy, logger *slog.Logger) *TelegramSender {
	if apiURL == "" {
		apiURL = DefaultTelegramAPI
	}
	return &TelegramSender{
		url:    strings.TrimRight(apiURL, "/") + "/bot" + token + "/sendMessage",
		token:  token,
		chatID: chatID,
		http:   httpx.NewClient(policy, nil, logger),
	}
}

// Send posts the message to the configured chat with the title in bold.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("*%s*\n%s", title, message),
		"parse_mode": "Markdown",
	}
	if err := t.http.PostJSON(ctx, t.url, payload, nil, nil); err != nil {
		return fmt.Errorf("telegram: chat %s: %w", t.chatID, redactedError{err: err, secret: t.token})
	}
	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}

// redactedError hides the bot token, which transport errors quote as part
// of the request URL.
type redactedError struct {
	err    error
	secret string
}

func (e redactedError) Error() string {
	if e.secret == "" {
		return e.err.Error()
	}
	return strings.ReplaceAll(e.err.Error(), e.secret, "<redacted>")
}

func (e redactedError) Unwrap() error { return e.err }
