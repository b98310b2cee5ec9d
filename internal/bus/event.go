package bus

import "time"

// Event kinds published by the chat engine. Subscribers filter by
// namespace prefix, e.g. "chat." or "unread.".
const (
	KindMessage             = "chat.message"
	KindConversationUpdated = "chat.conversation_updated"
	KindSendFailed          = "chat.send_failed"
	KindSubscriptionChanged = "chat.subscription_changed"
	KindUnreadChanged       = "unread.changed"
	KindCacheCleared        = "cache.cleared"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
