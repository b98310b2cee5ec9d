package cache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
)

// FreshnessWindow is the maximum age at which a persisted conversation
// snapshot is still served. Older entries are only a first-paint hint and
// Load reports them as absent.
const FreshnessWindow = time.Hour

const (
	keyConversations = "conversations"
	keyUnreadTotal   = "unread_total"
)

// envelope is the persisted snapshot payload.
type envelope struct {
	Conversations []chat.Conversation `json:"conversations"`
	CachedAt      int64               `json:"cachedAt"` // unix millis
}

// Snapshot is the single mutable cache slot for the device: the last known
// conversation list plus its derived unread total. Conversation writes and
// unread-total writes happen in one transaction so neither can be stale
// relative to the other. Concurrent writers race last-write-wins; that is
// accepted for a single-device cache.
type Snapshot struct {
	db *DB

	// now is swappable for freshness-boundary tests.
	now func() time.Time
	// window is how long a snapshot stays servable.
	window time.Duration

	mu          sync.Mutex
	unreadTotal int
}

// NewSnapshot creates a snapshot layer over an opened cache database.
func NewSnapshot(db *DB) *Snapshot {
	return &Snapshot{db: db, now: time.Now, window: FreshnessWindow}
}

// SetClock overrides the wall clock, for tests.
func (s *Snapshot) SetClock(now func() time.Time) {
	s.now = now
}

// SetFreshnessWindow overrides the default freshness window. Non-positive
// values are ignored.
func (s *Snapshot) SetFreshnessWindow(d time.Duration) {
	if d > 0 {
		s.window = d
	}
}

// Save persists the conversation list and, in the same transaction, the
// recomputed unread total. Old records may key the viewer's counter under
// either identity representation, so all of the viewer's sanitized keys are
// consulted; per conversation the first key holding a counter wins.
func (s *Snapshot) Save(conversations []chat.Conversation, viewerKeys ...string) error {
	total := 0
	for i := range conversations {
		for _, key := range viewerKeys {
			if n := conversations[i].UnreadFor(key); n > 0 {
				total += n
				break
			}
		}
	}

	payload, err := json.Marshal(envelope{
		Conversations: conversations,
		CachedAt:      s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	nowMs := s.now().UnixMilli()
	for _, kv := range []struct{ key, value string }{
		{keyConversations, string(payload)},
		{keyUnreadTotal, strconv.Itoa(total)},
	} {
		if _, err := tx.Exec(`
			INSERT INTO kv (key, value, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			kv.key, kv.value, nowMs); err != nil {
			return fmt.Errorf("write %s: %w", kv.key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	s.mu.Lock()
	s.unreadTotal = total
	s.mu.Unlock()
	return nil
}

// Load returns the cached conversation list, or nil when no cache exists or
// the entry is older than the freshness window. On a hit the in-memory
// unread total is refreshed from the persisted value.
func (s *Snapshot) Load() ([]chat.Conversation, error) {
	raw, ok, err := s.db.Get(keyConversations)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		// A corrupt snapshot is treated as absent, not fatal.
		return nil, nil
	}

	age := s.now().Sub(time.UnixMilli(env.CachedAt))
	if age >= s.window {
		return nil, nil
	}

	if rawTotal, ok, err := s.db.Get(keyUnreadTotal); err == nil && ok {
		if total, err := strconv.Atoi(rawTotal); err == nil {
			s.mu.Lock()
			s.unreadTotal = total
			s.mu.Unlock()
		}
	}
	return env.Conversations, nil
}

// UnreadTotal returns the in-memory unread total, falling back to the
// persisted value when nothing has been loaded yet.
func (s *Snapshot) UnreadTotal() int {
	s.mu.Lock()
	total := s.unreadTotal
	s.mu.Unlock()
	if total != 0 {
		return total
	}
	if raw, ok, err := s.db.Get(keyUnreadTotal); err == nil && ok {
		if persisted, err := strconv.Atoi(raw); err == nil {
			return persisted
		}
	}
	return total
}

// SetUnreadTotal updates the in-memory and persisted unread total without
// rewriting the conversation list.
func (s *Snapshot) SetUnreadTotal(total int) error {
	if err := s.db.Set(keyUnreadTotal, strconv.Itoa(total)); err != nil {
		return fmt.Errorf("write unread total: %w", err)
	}
	s.mu.Lock()
	s.unreadTotal = total
	s.mu.Unlock()
	return nil
}

// Clear removes the conversation snapshot and its unread total. Used only
// in response to a detected backend reset. Reports whether anything was
// actually removed.
func (s *Snapshot) Clear() bool {
	_, had, _ := s.db.Get(keyConversations)
	if err := s.db.Remove(keyConversations); err != nil {
		return false
	}
	if err := s.db.Remove(keyUnreadTotal); err != nil {
		return false
	}
	s.mu.Lock()
	s.unreadTotal = 0
	s.mu.Unlock()
	return had
}
