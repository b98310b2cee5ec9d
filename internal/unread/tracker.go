// Package unread maintains per-user unread counters and the derived
// aggregate badge count.
package unread

import (
	"context"
	"fmt"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/cache"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/remote"
	"go.uber.org/zap"
)

// Tracker computes unread totals and applies read-state transitions.
// Counters only ever reset to zero through an explicit read action; they are
// never decremented by arbitrary amounts.
type Tracker struct {
	store  remote.Store
	snap   *cache.Snapshot
	bus    *bus.Bus
	logger *zap.Logger
}

// NewTracker creates a tracker over the remote store and the local cache
// snapshot.
func NewTracker(store remote.Store, snap *cache.Snapshot, b *bus.Bus, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, snap: snap, bus: b, logger: logger}
}

// TotalUnread sums the viewer's unread counters across conversations. An
// empty list answers with the last persisted total instead of zero, so the
// badge does not flash "0" while a refresh is in flight.
func (t *Tracker) TotalUnread(conversations []chat.Conversation, viewer identity.User) int {
	if len(conversations) == 0 {
		return t.snap.UnreadTotal()
	}
	viewerKeys := sanitizedKeys(viewer)
	total := 0
	for i := range conversations {
		total += unreadForViewer(&conversations[i], viewerKeys)
	}
	return total
}

// MarkConversationRead zeroes the viewer's counter on one conversation.
// A zero or absent counter makes this a no-op, so repeated calls are
// idempotent. conversations is the caller's current working list; the
// matching entry is updated in place and the cache re-persisted.
func (t *Tracker) MarkConversationRead(ctx context.Context, convID string, viewer identity.User, conversations []chat.Conversation) error {
	idx := -1
	for i := range conversations {
		if conversations[i].ID == convID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	viewerKeys := sanitizedKeys(viewer)
	key, count := viewerCounter(&conversations[idx], viewerKeys)
	if count == 0 {
		return nil
	}

	if err := t.store.ResetUnread(ctx, convID, key); err != nil {
		return fmt.Errorf("reset unread for %q: %w", convID, err)
	}

	st := conversations[idx].Participant[key]
	st.Unread = 0
	conversations[idx].Participant[key] = st

	t.persist(conversations, viewerKeys)
	return nil
}

// MarkAllRead zeroes the viewer's counter on every conversation that has
// one. The remote update is a single atomic batch: on failure neither the
// in-memory list nor the cache is touched, keeping local and remote counts
// consistent.
func (t *Tracker) MarkAllRead(ctx context.Context, viewer identity.User, conversations []chat.Conversation) error {
	viewerKeys := sanitizedKeys(viewer)

	// The viewer key can differ per record when old records were written
	// under the email scheme; the batch carries the key per conversation
	// so every record still resets in one call.
	resets := make(map[string]string)
	for i := range conversations {
		key, count := viewerCounter(&conversations[i], viewerKeys)
		if count > 0 {
			resets[conversations[i].ID] = key
		}
	}
	if len(resets) == 0 {
		return nil
	}

	if err := t.store.ResetUnreadBatch(ctx, resets); err != nil {
		return fmt.Errorf("reset unread batch: %w", err)
	}

	for i := range conversations {
		key, count := viewerCounter(&conversations[i], viewerKeys)
		if count > 0 {
			st := conversations[i].Participant[key]
			st.Unread = 0
			conversations[i].Participant[key] = st
		}
	}
	t.persist(conversations, viewerKeys)
	return nil
}

func (t *Tracker) persist(conversations []chat.Conversation, viewerKeys []string) {
	if err := t.snap.Save(conversations, viewerKeys...); err != nil {
		t.logger.Warn("cache re-save after read-state change failed", zap.Error(err))
	}
	if t.bus != nil {
		t.bus.Publish(bus.Event{
			Kind:    bus.KindUnreadChanged,
			Payload: t.snap.UnreadTotal(),
		})
	}
}

// sanitizedKeys returns every sanitized key that may hold the viewer's
// counter in persisted records.
func sanitizedKeys(viewer identity.User) []string {
	ids := viewer.Identities()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, identity.SanitizeKey(id))
	}
	return keys
}

// viewerCounter finds the key under which a conversation stores the
// viewer's counter and its current value. Prefers the first key with a
// nonzero count, else the primary key.
func viewerCounter(c *chat.Conversation, viewerKeys []string) (string, int) {
	for _, key := range viewerKeys {
		if n := c.UnreadFor(key); n > 0 {
			return key, n
		}
	}
	if len(viewerKeys) > 0 {
		return viewerKeys[0], 0
	}
	return "", 0
}

func unreadForViewer(c *chat.Conversation, viewerKeys []string) int {
	_, n := viewerCounter(c, viewerKeys)
	return n
}
