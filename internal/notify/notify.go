// Package notify decides when a push notification should fire and what
// payload it carries. Delivery mechanics belong to the platform shell; the
// engine only talks to the Notifier interface.
package notify

import (
	"context"
	"unicode/utf8"

	"go.uber.org/zap"
)

// previewLimit caps the message content carried in a notification payload.
const previewLimit = 100

// Payload is the data attached to a notification.
type Payload struct {
	ConversationID string
	SenderName     string
	Preview        string
}

// Notifier is the external delivery collaborator.
type Notifier interface {
	Notify(ctx context.Context, recipient, title, body string, payload Payload) error
}

// LogNotifier records notifications in the log instead of delivering them;
// used in tests and headless runs.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n *LogNotifier) Notify(_ context.Context, recipient, title, body string, payload Payload) error {
	if n.Logger != nil {
		n.Logger.Info("notification",
			zap.String("recipient", recipient),
			zap.String("title", title),
			zap.String("body", body),
			zap.String("conversation_id", payload.ConversationID),
		)
	}
	return nil
}

// Truncate shortens message content to the notification preview limit,
// backing off to the nearest rune boundary so multi-byte characters are
// never cut in half.
func Truncate(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	cut := previewLimit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
