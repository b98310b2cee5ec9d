package chatstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/cache"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/remote"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/status"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/sync"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/unread"
)

type fixture struct {
	store *Store
	mem   *remote.MemStore
	snap  *cache.Snapshot
	bus   *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mem := remote.NewMemStore()
	snap := cache.NewSnapshot(db)
	b := bus.New()
	ids := &identity.StaticProvider{User: &identity.User{ID: "u1", Email: "a@x.com", Name: "Alice"}}
	engine := sync.NewEngine(mem, ids, nil, b, nil)
	tracker := unread.NewTracker(mem, snap, b, nil)

	st := New(engine, tracker, snap, ids, b, nil)
	t.Cleanup(st.Close)
	return &fixture{store: st, mem: mem, snap: snap, bus: b}
}

func seed(t *testing.T, mem *remote.MemStore, convs ...chat.Conversation) {
	t.Helper()
	for i := range convs {
		c := convs[i]
		if err := mem.CreateConversation(context.Background(), &c); err != nil {
			t.Fatal(err)
		}
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRefreshDedupesSortsAndPersists(t *testing.T) {
	f := newFixture(t)
	// Two records for the same counterpart, one keyed by email, one by
	// opaque id. The id-keyed one carries the newer activity.
	seed(t, f.mem,
		chat.Conversation{
			ID:              "a@x.com_u2",
			Participants:    []string{"a@x.com", "u2"},
			LastMessageTime: "2026-08-29T10:00:00.000Z",
		},
		chat.Conversation{
			ID:              "u1_u2",
			Participants:    []string{"u1", "u2"},
			LastMessageTime: "2026-08-29T12:00:00.000Z",
		},
		chat.Conversation{
			ID:              "u1_u3",
			Participants:    []string{"u1", "u3"},
			LastMessageTime: "2026-08-29T11:00:00.000Z",
		},
	)

	convs, err := f.store.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Fatalf("got %d conversations, want 2 after dedupe", len(convs))
	}
	if convs[0].ID != "u1_u2" || convs[1].ID != "u1_u3" {
		t.Errorf("order = [%s %s], want most recent first", convs[0].ID, convs[1].ID)
	}

	cached, err := f.snap.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(cached) != 2 {
		t.Errorf("persisted %d conversations, want 2", len(cached))
	}
}

func TestRefreshFailureReturnsCachedList(t *testing.T) {
	f := newFixture(t)
	working := []chat.Conversation{{ID: "u1_u2", Participants: []string{"u1", "u2"}}}
	if err := f.snap.Save(working, "u1"); err != nil {
		t.Fatal(err)
	}

	f.mem.FailWith(remote.ErrUnavailable)
	convs, err := f.store.Refresh(context.Background())

	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Message != MsgLoadFailed {
		t.Fatalf("error = %v, want user-facing %q", err, MsgLoadFailed)
	}
	if !errors.Is(err, remote.ErrUnavailable) {
		t.Errorf("cause not preserved: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != "u1_u2" {
		t.Errorf("cached fallback = %+v, want the saved conversation", convs)
	}
}

func TestCachedConversationsFastPath(t *testing.T) {
	f := newFixture(t)
	if f.store.CachedConversations() != nil {
		t.Error("cold cache should yield nil")
	}
	if err := f.snap.Save([]chat.Conversation{{ID: "u1_u2"}}, "u1"); err != nil {
		t.Fatal(err)
	}
	if got := f.store.CachedConversations(); len(got) != 1 {
		t.Errorf("got %d conversations from cache, want 1", len(got))
	}
}

func TestSendClearsDraftAndRestoresOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{ID: "u1_u2", Participants: []string{"u1", "u2"}})

	f.store.SetDraft("u1_u2", "hey, is the bike still available?")
	if err := f.store.Send(ctx, "u1_u2", "hey, is the bike still available?"); err != nil {
		t.Fatal(err)
	}
	if d := f.store.DraftFor("u1_u2"); d != "" {
		t.Errorf("draft after successful send = %q, want empty", d)
	}
	msgs, err := f.mem.ListMessages(ctx, "u1_u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("stored %d messages, want 1", len(msgs))
	}

	events, unsub := f.bus.Subscribe("chat.", 8)
	defer unsub()

	f.mem.FailWith(remote.ErrUnavailable)
	err = f.store.Send(ctx, "u1_u2", "second try")
	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Message != MsgSendFailed {
		t.Fatalf("error = %v, want user-facing %q", err, MsgSendFailed)
	}
	if d := f.store.DraftFor("u1_u2"); d != "second try" {
		t.Errorf("draft after failed send = %q, want restored content", d)
	}
	select {
	case ev := <-events:
		if ev.Kind != bus.KindSendFailed {
			t.Errorf("event kind = %s, want %s", ev.Kind, bus.KindSendFailed)
		}
	case <-time.After(time.Second):
		t.Error("no send-failed event published")
	}
}

func TestSendEmptyContentIsNoop(t *testing.T) {
	f := newFixture(t)
	if err := f.store.Send(context.Background(), "u1_u2", ""); err != nil {
		t.Errorf("empty send error = %v, want nil", err)
	}
}

func TestOpenConversationDeliversOnlyNewMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{ID: "u1_u2", Participants: []string{"u1", "u2"}})
	if err := f.store.Send(ctx, "u1_u2", "existing"); err != nil {
		t.Fatal(err)
	}

	var got []chat.Message
	ch := make(chan chat.Message, 16)
	initial, err := f.store.OpenConversation(ctx, "u1_u2", func(m chat.Message) {
		ch <- m
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(initial) != 1 || initial[0].Content != "existing" {
		t.Fatalf("initial = %+v, want the one existing message", initial)
	}
	if st := f.store.SubscriptionState("u1_u2"); st != status.Live {
		t.Errorf("subscription state = %s, want %s", st, status.Live)
	}

	// The backlog replay overlaps the initial fetch; nothing should reach
	// the callback until a genuinely new message arrives.
	now := "2026-08-29T12:00:00.000Z"
	err = f.mem.AppendMessage(ctx, "u1_u2", &chat.Message{
		ID: "m-new", ConversationID: "u1_u2", SenderID: "u1",
		Content: "new", Status: chat.StatusSent, CreatedAt: now, UpdatedAt: now,
	}, "")
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		for {
			select {
			case m := <-ch:
				got = append(got, m)
			default:
				return len(got) >= 1
			}
		}
	}, "new message never delivered")

	if len(got) != 1 || got[0].ID != "m-new" {
		t.Errorf("delivered = %+v, want exactly the new message", got)
	}
}

func TestOpenConversationReplacesExistingSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{ID: "u1_u2", Participants: []string{"u1", "u2"}})

	first := make(chan chat.Message, 16)
	if _, err := f.store.OpenConversation(ctx, "u1_u2", func(m chat.Message) { first <- m }); err != nil {
		t.Fatal(err)
	}
	second := make(chan chat.Message, 16)
	if _, err := f.store.OpenConversation(ctx, "u1_u2", func(m chat.Message) { second <- m }); err != nil {
		t.Fatal(err)
	}

	now := "2026-08-29T12:00:00.000Z"
	err := f.mem.AppendMessage(ctx, "u1_u2", &chat.Message{
		ID: "m1", ConversationID: "u1_u2", SenderID: "u1",
		Content: "hi", Status: chat.StatusSent, CreatedAt: now, UpdatedAt: now,
	}, "")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement subscription never received the message")
	}
	select {
	case m := <-first:
		t.Errorf("stale subscription received %+v after replacement", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestCloseConversationIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{ID: "u1_u2", Participants: []string{"u1", "u2"}})

	if _, err := f.store.OpenConversation(ctx, "u1_u2", nil); err != nil {
		t.Fatal(err)
	}
	f.store.CloseConversation("u1_u2")
	f.store.CloseConversation("u1_u2")
	f.store.CloseConversation("never-opened")

	if st := f.store.SubscriptionState("u1_u2"); st != status.Unsubscribed {
		t.Errorf("state after close = %s, want %s", st, status.Unsubscribed)
	}
}

func TestIncomingMessageMarkedRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{
		ID:           "u1_u2",
		Participants: []string{"u1", "u2"},
	})
	if _, err := f.store.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	delivered := make(chan chat.Message, 16)
	if _, err := f.store.OpenConversation(ctx, "u1_u2", func(m chat.Message) { delivered <- m }); err != nil {
		t.Fatal(err)
	}

	// Counterpart sends while the screen is open: their write increments
	// our unread counter, and viewing should zero it again.
	now := "2026-08-29T12:00:00.000Z"
	err := f.mem.AppendMessage(ctx, "u1_u2", &chat.Message{
		ID: "m1", ConversationID: "u1_u2", SenderID: "u2", SenderName: "Bob",
		Content: "still available?", Status: chat.StatusSent, CreatedAt: now, UpdatedAt: now,
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("incoming message never delivered")
	}

	waitFor(t, func() bool {
		msgs, err := f.mem.ListMessages(ctx, "u1_u2")
		if err != nil || len(msgs) != 1 {
			return false
		}
		conv, err := f.mem.GetConversation(ctx, "u1_u2")
		if err != nil {
			return false
		}
		return msgs[0].Status == chat.StatusRead && conv.UnreadFor("u1") == 0
	}, "incoming message not marked read")
}

func TestReadStateConcurrentWithIncoming(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{
		ID:           "u1_u2",
		Participants: []string{"u1", "u2"},
	})
	if _, err := f.store.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.OpenConversation(ctx, "u1_u2", func(chat.Message) {}); err != nil {
		t.Fatal(err)
	}

	// The counterpart keeps sending on the subscription goroutine while
	// the viewer hammers the read-state paths. Run under the race
	// detector this exercises every access to the shared list.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 25; i++ {
			now := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
			_ = f.mem.AppendMessage(ctx, "u1_u2", &chat.Message{
				ID: fmt.Sprintf("m%d", i), ConversationID: "u1_u2", SenderID: "u2",
				Content: "ping", Status: chat.StatusSent, CreatedAt: now, UpdatedAt: now,
			}, "u1")
		}
	}()

	for i := 0; i < 25; i++ {
		_ = f.store.TotalUnread()
		_ = f.store.Conversations()
		if err := f.store.MarkAllRead(ctx); err != nil {
			t.Fatal(err)
		}
	}
	<-done

	waitFor(t, func() bool {
		if err := f.store.MarkAllRead(ctx); err != nil {
			return false
		}
		return f.store.TotalUnread() == 0
	}, "unread count never settled to zero")
}

func TestOpenKnownConversationGoneInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{ID: "u1_u2", Participants: []string{"u1", "u2"}})
	if _, err := f.store.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	events, unsub := f.bus.Subscribe("cache.", 8)
	defer unsub()

	f.mem.FailWith(remote.ErrNotFound)
	_, err := f.store.OpenConversation(ctx, "u1_u2", nil)

	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Message != MsgConversationReset {
		t.Fatalf("error = %v, want user-facing %q", err, MsgConversationReset)
	}

	f.mem.FailWith(nil)
	cached, loadErr := f.snap.Load()
	if loadErr != nil {
		t.Fatal(loadErr)
	}
	if cached != nil {
		t.Error("snapshot survived a backend reset")
	}
	select {
	case ev := <-events:
		if ev.Kind != bus.KindCacheCleared {
			t.Errorf("event kind = %s, want %s", ev.Kind, bus.KindCacheCleared)
		}
	case <-time.After(time.Second):
		t.Error("no cache-cleared event published")
	}
}

func TestOpenUnknownConversationGoneIsTransient(t *testing.T) {
	f := newFixture(t)
	// Never cached, never listed: a not-found here is not a reset signal.
	_, err := f.store.OpenConversation(context.Background(), "u1_u9", nil)
	var uerr *Error
	if !errors.As(err, &uerr) || uerr.Message != MsgLoadFailed {
		t.Fatalf("error = %v, want user-facing %q", err, MsgLoadFailed)
	}
}

func TestStartConversationConverges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{
		ID:           "u1_u2",
		Participants: []string{"u1", "u2"},
		Participant: map[string]chat.ParticipantState{
			"b@y_com": {},
		},
	})
	if _, err := f.store.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	// Asking by email must land on the existing opaque-id thread.
	conv, err := f.store.StartConversation(ctx, "b@y.com", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID != "u1_u2" {
		t.Errorf("conversation id = %s, want existing u1_u2", conv.ID)
	}
}

func TestTotalUnreadBadge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seed(t, f.mem, chat.Conversation{
		ID:           "u1_u2",
		Participants: []string{"u1", "u2"},
		Participant: map[string]chat.ParticipantState{
			"u1": {Unread: 4},
		},
	})
	if _, err := f.store.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.store.TotalUnread(); got != 4 {
		t.Errorf("TotalUnread = %d, want 4", got)
	}
	if err := f.store.MarkAllRead(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.store.TotalUnread(); got != 0 {
		t.Errorf("TotalUnread after MarkAllRead = %d, want 0", got)
	}
}
