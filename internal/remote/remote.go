// Package remote defines the document-store boundary the sync engine talks
// to: point lookup by conversation id, containment queries on participants,
// ordered message scans, atomic field updates, and a live subscription
// primitive. Two implementations exist: an in-memory store for tests and
// offline development, and a websocket client speaking the backend's JSON
// frame protocol.
package remote

import (
	"context"
	"errors"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
)

var (
	// ErrNotFound is returned for lookups of records that do not exist.
	ErrNotFound = errors.New("remote: not found")
	// ErrPermissionDenied is returned when the store rejects access to a
	// record. Together with ErrNotFound on a previously known record it
	// signals a backend reset.
	ErrPermissionDenied = errors.New("remote: permission denied")
	// ErrUnavailable is a transient transport or store failure.
	ErrUnavailable = errors.New("remote: unavailable")
	// ErrExists is returned by CreateConversation when the canonical id is
	// already taken (lost get-or-create race).
	ErrExists = errors.New("remote: conversation exists")
)

// IsReset reports whether an error on a previously known record indicates
// the backend data was cleared or reconfigured.
func IsReset(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied)
}

// IsTransient reports whether an error is worth retrying later.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Subscription is a handle on a live message listener. Unsubscribe is
// idempotent and safe to call after the underlying connection closed.
type Subscription interface {
	Unsubscribe()
}

// Store is the remote conversation/message store.
//
// The transport may redeliver subscription events; callers that need
// at-most-once delivery keep their own seen-id set.
type Store interface {
	// GetConversation looks up a conversation by canonical id.
	GetConversation(ctx context.Context, id string) (*chat.Conversation, error)

	// QueryConversations returns every conversation whose participant set
	// contains the given identity representation.
	QueryConversations(ctx context.Context, participant string) ([]chat.Conversation, error)

	// CreateConversation writes a new conversation record atomically.
	CreateConversation(ctx context.Context, conv *chat.Conversation) error

	// SetDisplayName updates one viewer's display-name mapping without
	// touching unrelated fields.
	SetDisplayName(ctx context.Context, convID, viewerKey, name string) error

	// AppendMessage writes a message and, in the same atomic update, the
	// conversation's denormalized last-message fields and the recipient's
	// unread counter increment.
	AppendMessage(ctx context.Context, convID string, msg *chat.Message, recipientKey string) error

	// ListMessages returns a conversation's messages ordered by createdAt
	// ascending.
	ListMessages(ctx context.Context, convID string) ([]chat.Message, error)

	// SetMessageStatus advances a message's status. Implementations must
	// not let the status regress.
	SetMessageStatus(ctx context.Context, convID, msgID, status string) error

	// ResetUnread zeroes one viewer's unread counter on one conversation.
	ResetUnread(ctx context.Context, convID, viewerKey string) error

	// ResetUnreadBatch zeroes unread counters across several conversations
	// in one atomic batch: all updates apply or none do. resets maps each
	// conversation id to the viewer key holding its counter, so records
	// written under different identity schemes share one batch.
	ResetUnreadBatch(ctx context.Context, resets map[string]string) error

	// SubscribeMessages opens a live listener on a conversation's messages
	// ordered by createdAt ascending. The current backlog is delivered
	// first, then incremental inserts and updates.
	SubscribeMessages(ctx context.Context, convID string, fn func(chat.Message)) (Subscription, error)
}
