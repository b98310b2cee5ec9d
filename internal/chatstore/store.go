// Package chatstore is the orchestration layer the UI shell talks to. It
// composes the sync engine, local cache, unread tracker, and subscription
// state machines into the operations a chat screen needs, and owns the
// single mutable working copy of the conversation list.
package chatstore

import (
	"context"
	"sort"
	gosync "sync"
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/cache"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/remote"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/status"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/sync"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/timeconv"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/unread"
	"go.uber.org/zap"
)

// Short, dismissible messages surfaced to the UI. Raw errors never reach
// the presentation layer.
const (
	MsgLoadFailed        = "Failed to load messages. Please try again."
	MsgSendFailed        = "Failed to send message. Please try again."
	MsgConversationReset = "This conversation was reset. Please start a new one."
)

// Error pairs a user-facing message with its cause.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// Store is the chat facade. One instance is constructed at startup with its
// collaborators injected and passed by reference to the UI.
type Store struct {
	engine  *sync.Engine
	tracker *unread.Tracker
	snap    *cache.Snapshot
	ids     identity.Provider
	bus     *bus.Bus
	logger  *zap.Logger

	mu     gosync.Mutex
	convs  []chat.Conversation
	drafts map[string]string
	subs   map[string]*liveConversation
}

type liveConversation struct {
	machine *status.Machine
	stream  *sync.Stream
}

// New creates the chat store facade.
func New(engine *sync.Engine, tracker *unread.Tracker, snap *cache.Snapshot, ids identity.Provider, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		engine:  engine,
		tracker: tracker,
		snap:    snap,
		ids:     ids,
		bus:     b,
		logger:  logger,
		drafts:  make(map[string]string),
		subs:    make(map[string]*liveConversation),
	}
}

// CachedConversations returns the persisted snapshot for a fast first
// paint, or nil when the cache is absent or stale. It never touches the
// network.
func (s *Store) CachedConversations() []chat.Conversation {
	convs, err := s.snap.Load()
	if err != nil {
		s.logger.Warn("cache load failed", zap.Error(err))
		return nil
	}
	if convs != nil {
		s.mu.Lock()
		s.convs = chat.CloneAll(convs)
		s.mu.Unlock()
	}
	return convs
}

// Refresh fetches the conversation list from the remote store, collapses
// duplicate-identity records, persists the result, and returns it ordered
// by last activity. On a transient failure the last cached list (possibly
// nil) is returned together with a user-facing *Error; the caller shows a
// retry affordance, never a stack trace.
func (s *Store) Refresh(ctx context.Context) ([]chat.Conversation, error) {
	user, err := s.ids.CurrentUser()
	if err != nil {
		return nil, &Error{Message: MsgLoadFailed, Err: err}
	}

	fetched, err := s.engine.FetchConversations(ctx)
	if err != nil {
		s.logger.Warn("conversation fetch failed", zap.Error(err))
		cached := s.CachedConversations()
		return cached, &Error{Message: MsgLoadFailed, Err: err}
	}

	deduped := identity.Dedupe(fetched, user.Identities())
	sortByActivity(deduped)

	if err := s.snap.Save(deduped, sanitizedKeys(user)...); err != nil {
		// A cache write failure degrades offline startup, nothing else.
		s.logger.Warn("cache save failed", zap.Error(err))
	}

	// The caller keeps deduped; the shared copy gets its own maps so the
	// subscription goroutine never writes into a slice the UI is reading.
	s.mu.Lock()
	s.convs = chat.CloneAll(deduped)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindUnreadChanged, Payload: s.snap.UnreadTotal()})
	}
	return deduped, nil
}

// Conversations returns the current working copy of the conversation list.
func (s *Store) Conversations() []chat.Conversation {
	return s.workingCopy()
}

// workingCopy deep-copies the shared list under the lock. The subscription
// goroutine mutates participant state through applyIncoming, so nothing may
// read or write the shared records outside s.mu.
func (s *Store) workingCopy() []chat.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return chat.CloneAll(s.convs)
}

// StartConversation is the get-or-create entry point for the marketplace's
// "message seller" action.
func (s *Store) StartConversation(ctx context.Context, otherRef, otherName string) (*chat.Conversation, error) {
	conv, err := s.engine.GetOrCreateConversation(ctx, otherRef, otherName)
	if err != nil {
		return nil, &Error{Message: MsgLoadFailed, Err: err}
	}
	return conv, nil
}

// TotalUnread returns the badge count for the current user.
func (s *Store) TotalUnread() int {
	user, err := s.ids.CurrentUser()
	if err != nil {
		return 0
	}
	return s.tracker.TotalUnread(s.workingCopy(), *user)
}

// MarkConversationRead zeroes the current user's unread counter on one
// conversation. Idempotent.
func (s *Store) MarkConversationRead(ctx context.Context, convID string) error {
	user, err := s.ids.CurrentUser()
	if err != nil {
		return err
	}
	convs := s.workingCopy()
	if err := s.tracker.MarkConversationRead(ctx, convID, *user, convs); err != nil {
		return err
	}
	s.swapWorkingCopy(convs)
	return nil
}

// MarkAllRead zeroes the current user's unread counter everywhere, as one
// atomic remote batch.
func (s *Store) MarkAllRead(ctx context.Context) error {
	user, err := s.ids.CurrentUser()
	if err != nil {
		return err
	}
	convs := s.workingCopy()
	if err := s.tracker.MarkAllRead(ctx, *user, convs); err != nil {
		return err
	}
	s.swapWorkingCopy(convs)
	return nil
}

// swapWorkingCopy installs a tracker-updated copy as the shared list. A
// concurrent applyIncoming between copy and swap loses its local increment;
// the next Refresh restores it from the remote counters.
func (s *Store) swapWorkingCopy(convs []chat.Conversation) {
	s.mu.Lock()
	s.convs = convs
	s.mu.Unlock()
}

// invalidateCache clears the snapshot after a detected backend reset.
func (s *Store) invalidateCache() {
	if s.snap.Clear() {
		s.logger.Info("cache invalidated after backend reset")
	}
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindCacheCleared})
	}
}

// Close tears down every live subscription. Safe to call more than once.
func (s *Store) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = make(map[string]*liveConversation)
	s.mu.Unlock()

	for _, lc := range subs {
		lc.stream.Unsubscribe()
		_ = lc.machine.Transition(status.Unsubscribed)
	}
}

func sortByActivity(convs []chat.Conversation) {
	var zero time.Time
	sort.SliceStable(convs, func(i, j int) bool {
		ti := timeconv.Parse(convs[i].LastMessageTime).Time(zero)
		tj := timeconv.Parse(convs[j].LastMessageTime).Time(zero)
		return ti.After(tj)
	})
}

func sanitizedKeys(user *identity.User) []string {
	ids := user.Identities()
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, identity.SanitizeKey(id))
	}
	return keys
}

// isReset reports whether an operation failed because previously known
// remote state vanished.
func isReset(err error) bool {
	return remote.IsReset(err)
}
