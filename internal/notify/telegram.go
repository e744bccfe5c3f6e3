package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramChannel sends notifications through a Telegram bot. The bot client
// is created on first use because construction calls getMe.
type TelegramChannel struct {
	token    string
	chatID   int64
	endpoint string
	client   *http.Client

	once    sync.Once
	bot     *tgbotapi.BotAPI
	initErr error
}

// NewTelegramChannel creates a Telegram channel.
func NewTelegramChannel(token string, chatID int64) *TelegramChannel {
	return &TelegramChannel{
		token:    token,
		chatID:   chatID,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// WithEndpoint points the channel at a different Bot API server. The format
// follows tgbotapi.APIEndpoint.
func (t *TelegramChannel) WithEndpoint(endpoint string) *TelegramChannel {
	t.endpoint = endpoint
	return t
}

func (t *TelegramChannel) Name() string    { return "telegram" }
func (t *TelegramChannel) IsEnabled() bool { return t.token != "" && t.chatID != 0 }

func (t *TelegramChannel) init() (*tgbotapi.BotAPI, error) {
	t.once.Do(func() {
		t.bot, t.initErr = tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	})
	return t.bot, t.initErr
}

// Send sends a notification via Telegram using HTML formatting.
func (t *TelegramChannel) Send(ctx context.Context, n Notification) error {
	if !t.IsEnabled() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	bot, err := t.init()
	if err != nil {
		return fmt.Errorf("telegram init: %w", err)
	}

	text := escapeHTML(n.Message)
	if n.Title != "" {
		text = fmt.Sprintf("<b>%s</b>\n\n%s", escapeHTML(n.Title), text)
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram message: %w", err)
	}
	return nil
}

// escapeHTML escapes HTML special characters for Telegram.
func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
