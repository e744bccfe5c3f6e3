// Package notify provides best-effort chat notifications for the fleet.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier defines the interface for sending notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationChannel defines the interface for a notification channel.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
	IsEnabled() bool
}

// Notification represents a notification message.
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Sender    string // display name, e.g. "Fleet Supervisor"
	Timestamp time.Time
}

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRegime    NotificationType = "regime"
	NotificationLaunch    NotificationType = "launch"
	NotificationRevival   NotificationType = "revival"
	NotificationPause     NotificationType = "pause"
	NotificationEmergency NotificationType = "emergency"
	NotificationTrade     NotificationType = "trade"
	NotificationError     NotificationType = "error"
	NotificationInfo      NotificationType = "info"
)

// NotificationLevel represents the notification level filter.
type NotificationLevel string

const (
	LevelAll        NotificationLevel = "all"
	LevelFleetOnly  NotificationLevel = "fleet_only"
	LevelErrorsOnly NotificationLevel = "errors_only"
)

// Color returns the Discord embed color for a notification type.
func (t NotificationType) Color() int {
	switch t {
	case NotificationEmergency, NotificationError:
		return 0xE74C3C
	case NotificationRevival, NotificationPause:
		return 0xF1C40F
	case NotificationLaunch, NotificationTrade:
		return 0x2ECC71
	case NotificationRegime:
		return 0x9B59B6
	default:
		return 0x3498DB
	}
}

// Config selects channels and filtering.
type Config struct {
	Level            NotificationLevel
	DiscordWebhook   string
	DiscordUsername  string
	TelegramBotToken string
	TelegramChatID   int64
	Console          bool
}

// MultiNotifier sends notifications to multiple channels.
type MultiNotifier struct {
	channels []NotificationChannel
	level    NotificationLevel
	mu       sync.RWMutex
}

// NewMultiNotifier creates a new MultiNotifier with the given configuration.
func NewMultiNotifier(cfg Config) *MultiNotifier {
	mn := &MultiNotifier{
		channels: make([]NotificationChannel, 0),
		level:    cfg.Level,
	}

	if mn.level == "" {
		mn.level = LevelAll
	}

	if cfg.DiscordWebhook != "" {
		mn.channels = append(mn.channels, NewDiscordChannel(cfg.DiscordWebhook, cfg.DiscordUsername))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		mn.channels = append(mn.channels, NewTelegramChannel(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.Console {
		mn.channels = append(mn.channels, NewConsoleChannel(nil, true))
	}

	return mn
}

// AddChannel adds a notification channel.
func (mn *MultiNotifier) AddChannel(ch NotificationChannel) {
	mn.mu.Lock()
	defer mn.mu.Unlock()
	mn.channels = append(mn.channels, ch)
}

// shouldSend checks if a notification should be sent based on the level filter.
func (mn *MultiNotifier) shouldSend(notifType NotificationType) bool {
	switch mn.level {
	case LevelFleetOnly:
		switch notifType {
		case NotificationRegime, NotificationLaunch, NotificationRevival, NotificationPause, NotificationEmergency:
			return true
		}
		return false
	case LevelErrorsOnly:
		return notifType == NotificationError || notifType == NotificationEmergency
	default:
		return true
	}
}

// Send sends a notification to all enabled channels. Every channel is tried;
// failures are collected into the returned error.
func (mn *MultiNotifier) Send(ctx context.Context, n Notification) error {
	if !mn.shouldSend(n.Type) {
		return nil
	}

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	mn.mu.RLock()
	channels := mn.channels
	mn.mu.RUnlock()

	var errs []string
	for _, ch := range channels {
		if ch.IsEnabled() {
			if err := ch.Send(ctx, n); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", ch.Name(), err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Nop discards every notification.
type Nop struct{}

func (Nop) Send(context.Context, Notification) error { return nil }

// BestEffort sends n with a bounded timeout and only logs a failure.
func BestEffort(ctx context.Context, notifier Notifier, logger zerolog.Logger, n Notification) {
	if notifier == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := notifier.Send(sendCtx, n); err != nil {
		logger.Debug().Err(err).Str("type", string(n.Type)).Msg("notification dropped")
	}
}
