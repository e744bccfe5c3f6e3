package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

// ConsoleChannel prints notifications to a terminal, for daemons run in the
// foreground.
type ConsoleChannel struct {
	out          io.Writer
	colorEnabled bool
	mu           sync.Mutex
}

// NewConsoleChannel creates a console channel. A nil writer means stdout.
func NewConsoleChannel(out io.Writer, colorEnabled bool) *ConsoleChannel {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleChannel{out: out, colorEnabled: colorEnabled}
}

func (c *ConsoleChannel) Name() string    { return "console" }
func (c *ConsoleChannel) IsEnabled() bool { return true }

func (c *ConsoleChannel) Send(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, FormatNotification(n, c.colorEnabled))
	return err
}

// FormatNotification renders a notification as a single terminal block.
func FormatNotification(n Notification, colorEnabled bool) string {
	var icon string
	var attr color.Attribute
	switch n.Type {
	case NotificationEmergency:
		icon, attr = "🛑", color.FgRed
	case NotificationError:
		icon, attr = "❌", color.FgRed
	case NotificationRevival:
		icon, attr = "🚑", color.FgYellow
	case NotificationPause:
		icon, attr = "💤", color.FgYellow
	case NotificationLaunch:
		icon, attr = "🚀", color.FgGreen
	case NotificationTrade:
		icon, attr = "💹", color.FgGreen
	case NotificationRegime:
		icon, attr = "🧠", color.FgMagenta
	default:
		icon, attr = "ℹ️", color.FgCyan
	}

	ts := n.Timestamp.Format("15:04:05")
	head := fmt.Sprintf("[%s] %s %s", ts, icon, n.Title)
	if n.Title == "" {
		head = fmt.Sprintf("[%s] %s", ts, icon)
	}
	if colorEnabled {
		c := color.New(attr, color.Bold)
		c.EnableColor()
		head = c.Sprint(head)
	}
	if n.Message == "" {
		return head
	}
	return head + "\n" + n.Message
}
