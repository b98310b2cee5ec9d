package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/remote"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/timeconv"
)

func testUser() *identity.User {
	return &identity.User{ID: "u1", Email: "a@x.com", Name: "Alice"}
}

func testEngine(store remote.Store) *Engine {
	return NewEngine(store, &identity.StaticProvider{User: testUser()}, timeconv.NewNormalizer(), bus.New(), nil)
}

func TestGetOrCreateConversationNew(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	conv, err := e.GetOrCreateConversation(ctx, "b@x.com", "Bob")
	if err != nil {
		t.Fatal(err)
	}

	if conv.ID != "b@x.com_u1" {
		t.Errorf("conversation id = %q, want b@x.com_u1", conv.ID)
	}
	if len(conv.Participants) != 2 || conv.Participants[0] != "b@x.com" || conv.Participants[1] != "u1" {
		t.Errorf("participants = %v", conv.Participants)
	}
	if conv.UnreadFor("u1") != 0 || conv.UnreadFor("b@x_com") != 0 {
		t.Error("new conversation should start with zero unread counters")
	}
	if conv.Participant["u1"].DisplayName != "Bob" {
		t.Errorf("caller's counterpart name = %q, want Bob", conv.Participant["u1"].DisplayName)
	}
	if conv.Participant["b@x_com"].DisplayName != "Alice" {
		t.Errorf("counterpart's name mapping = %q, want Alice", conv.Participant["b@x_com"].DisplayName)
	}
}

func TestGetOrCreateConversationIdempotent(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	first, err := e.GetOrCreateConversation(ctx, "b@x.com", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.GetOrCreateConversation(ctx, "b@x.com", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %q vs %q", first.ID, second.ID)
	}

	convs, err := m.QueryConversations(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Errorf("got %d remote records, want 1 (no duplicate created)", len(convs))
	}
}

func TestGetOrCreateConvergesOnOpaqueIDThread(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	// Pre-existing conversation keyed by opaque id, with leftover state
	// tying u2 to the email b@x.com.
	_ = m.CreateConversation(ctx, &chat.Conversation{
		ID:           "u1_u2",
		Participants: []string{"u1", "u2"},
		Participant: map[string]chat.ParticipantState{
			"b@x_com": {DisplayName: "Alice"},
		},
		CreatedAt: "2024-03-01T10:00:00.000Z",
		UpdatedAt: "2024-03-01T10:00:00.000Z",
	})

	conv, err := e.GetOrCreateConversation(ctx, "b@x.com", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if conv.ID != "u1_u2" {
		t.Errorf("converged on %q, want existing u1_u2", conv.ID)
	}

	// And no email-keyed fork was created.
	if _, err := m.GetConversation(ctx, "b@x.com_u1"); err == nil {
		t.Error("email-keyed duplicate conversation was created")
	}
}

func TestFetchConversationsUnion(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	// One record keyed by id, one by email, one unrelated.
	for _, c := range []*chat.Conversation{
		{ID: "u1_u2", Participants: []string{"u1", "u2"}},
		{ID: "a@x.com_u3", Participants: []string{"a@x.com", "u3"}},
		{ID: "u4_u5", Participants: []string{"u4", "u5"}},
	} {
		c.CreatedAt = "2024-03-01T10:00:00.000Z"
		c.UpdatedAt = c.CreatedAt
		if err := m.CreateConversation(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := e.FetchConversations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 {
		t.Errorf("got %d conversations, want 2 (union over id and email)", len(convs))
	}
}

func TestSendMessageScenarioOrdering(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	conv, err := e.GetOrCreateConversation(ctx, "u2", "Bob")
	if err != nil {
		t.Fatal(err)
	}

	for _, content := range []string{"Hi", "How are you?", "Good"} {
		if _, err := e.SendMessage(ctx, conv.ID, content); err != nil {
			t.Fatal(err)
		}
		// Distinct creation instants, as the remote store would assign.
		time.Sleep(2 * time.Millisecond)
	}

	msgs, err := e.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	want := []string{"Hi", "How are you?", "Good"}
	for i, w := range want {
		if msgs[i].Content != w {
			t.Errorf("message[%d] = %q, want %q", i, msgs[i].Content, w)
		}
	}
}

func TestSendMessageUpdatesDenormAndUnread(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	conv, _ := e.GetOrCreateConversation(ctx, "u2", "Bob")
	if _, err := e.SendMessage(ctx, conv.ID, "hello there"); err != nil {
		t.Fatal(err)
	}

	stored, err := m.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastMessageContent != "hello there" {
		t.Errorf("LastMessageContent = %q", stored.LastMessageContent)
	}
	if stored.UnreadFor("u2") != 1 {
		t.Errorf("recipient unread = %d, want 1", stored.UnreadFor("u2"))
	}
	if stored.UnreadFor("u1") != 0 {
		t.Errorf("sender unread = %d, want 0", stored.UnreadFor("u1"))
	}
}

func TestSubscribeAtMostOnceUnderRedelivery(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	m.Redeliver = true
	e := testEngine(m)

	conv, _ := e.GetOrCreateConversation(ctx, "u2", "Bob")

	var mu sync.Mutex
	counts := make(map[string]int)
	stream, err := e.Subscribe(ctx, conv.ID, func(msg chat.Message) {
		mu.Lock()
		counts[msg.ID]++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Unsubscribe()

	sent, err := e.SendMessage(ctx, conv.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}

	// The store redelivers every event; give both copies time to arrive.
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if counts[sent.ID] != 1 {
		t.Errorf("message delivered %d times, want exactly 1", counts[sent.ID])
	}
}

func TestStreamUnsubscribeIdempotent(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	conv, _ := e.GetOrCreateConversation(ctx, "u2", "Bob")
	stream, err := e.Subscribe(ctx, conv.ID, func(chat.Message) {})
	if err != nil {
		t.Fatal(err)
	}

	stream.Unsubscribe()
	stream.Unsubscribe()
	stream.Unsubscribe()
}

func TestSubscribePublishesInboundEvents(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	b := bus.New()
	e := NewEngine(m, &identity.StaticProvider{User: testUser()}, timeconv.NewNormalizer(), b, nil)

	conv, _ := e.GetOrCreateConversation(ctx, "u2", "Bob")

	events, unsub := b.Subscribe("chat.", 16)
	defer unsub()

	stream, err := e.Subscribe(ctx, conv.ID, func(chat.Message) {})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Unsubscribe()

	// A message from the counterpart lands in the store directly, as if
	// sent from their device.
	inbound := &chat.Message{
		ID: "m-in", ConversationID: conv.ID, SenderID: "u2", SenderName: "Bob",
		Content: "hey", Status: chat.StatusSent,
		CreatedAt: timeconv.Format(time.Now()),
	}
	if err := m.AppendMessage(ctx, conv.ID, inbound, "u1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-events:
			me, ok := evt.Payload.(MessageEvent)
			if !ok || me.Message.ID != "m-in" {
				continue
			}
			if !me.Inbound {
				t.Error("counterpart message not flagged inbound")
			}
			return
		case <-deadline:
			t.Fatal("timeout waiting for inbound message event")
		}
	}
}

func TestMarkMessageReadMonotonic(t *testing.T) {
	ctx := context.Background()
	m := remote.NewMemStore()
	e := testEngine(m)

	conv, _ := e.GetOrCreateConversation(ctx, "u2", "Bob")
	sent, _ := e.SendMessage(ctx, conv.ID, "hi")

	if err := e.MarkMessageRead(ctx, conv.ID, sent.ID); err != nil {
		t.Fatal(err)
	}
	if err := e.MarkMessageDelivered(ctx, conv.ID, sent.ID); err != nil {
		t.Fatal(err)
	}

	msgs, _ := e.Messages(ctx, conv.ID)
	if msgs[0].Status != chat.StatusRead {
		t.Errorf("status = %q, want READ (stale DELIVERED dropped)", msgs[0].Status)
	}
}
