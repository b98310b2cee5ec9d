package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/timeconv"
)

// MemStore is an in-memory Store used by tests and offline development.
// Subscription callbacks fire on their own goroutine, never on the
// mutating caller's stack, mirroring the real transport.
type MemStore struct {
	mu    sync.Mutex
	convs map[string]*chat.Conversation
	msgs  map[string][]chat.Message
	subs  map[string]map[int]*memSub
	next  int

	// failErr, when set, is returned by every operation until cleared.
	failErr error
	// Redeliver makes the store deliver every live event twice, imitating
	// the real transport's at-least-once behavior.
	Redeliver bool
}

type memSub struct {
	ch   chan chat.Message
	stop chan struct{}
	once sync.Once
}

func (s *memSub) Unsubscribe() {
	s.once.Do(func() { close(s.stop) })
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		convs: make(map[string]*chat.Conversation),
		msgs:  make(map[string][]chat.Message),
		subs:  make(map[string]map[int]*memSub),
	}
}

// FailWith makes every subsequent operation return err; pass nil to heal.
func (m *MemStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *MemStore) GetConversation(_ context.Context, id string) (*chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	conv, ok := m.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := cloneConversation(conv)
	return &c, nil
}

func (m *MemStore) QueryConversations(_ context.Context, participant string) ([]chat.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []chat.Conversation
	for _, conv := range m.convs {
		for _, p := range conv.Participants {
			if p == participant {
				out = append(out, cloneConversation(conv))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) CreateConversation(_ context.Context, conv *chat.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if _, ok := m.convs[conv.ID]; ok {
		return ErrExists
	}
	c := cloneConversation(conv)
	m.convs[conv.ID] = &c
	return nil
}

func (m *MemStore) SetDisplayName(_ context.Context, convID, viewerKey, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	conv, ok := m.convs[convID]
	if !ok {
		return ErrNotFound
	}
	st := chat.ParticipantState{}
	if conv.Participant != nil {
		st = conv.Participant[viewerKey]
	}
	st.DisplayName = name
	conv.SetParticipantState(viewerKey, st)
	return nil
}

func (m *MemStore) AppendMessage(_ context.Context, convID string, msg *chat.Message, recipientKey string) error {
	m.mu.Lock()
	if m.failErr != nil {
		m.mu.Unlock()
		return m.failErr
	}
	conv, ok := m.convs[convID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}

	stored := *msg
	m.msgs[convID] = insertByCreatedAt(m.msgs[convID], stored)

	conv.LastMessageContent = msg.Content
	conv.LastMessageTime = msg.CreatedAt
	conv.UpdatedAt = msg.CreatedAt
	if recipientKey != "" {
		st := chat.ParticipantState{}
		if conv.Participant != nil {
			st = conv.Participant[recipientKey]
		}
		st.Unread++
		conv.SetParticipantState(recipientKey, st)
	}

	subs := m.subscribers(convID)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(stored)
		if m.Redeliver {
			sub.deliver(stored)
		}
	}
	return nil
}

// subscribers copies the subscriber set for a conversation; callers must
// hold mu.
func (m *MemStore) subscribers(convID string) []*memSub {
	out := make([]*memSub, 0, len(m.subs[convID]))
	for _, sub := range m.subs[convID] {
		out = append(out, sub)
	}
	return out
}

func (m *MemStore) ListMessages(_ context.Context, convID string) ([]chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if _, ok := m.convs[convID]; !ok {
		return nil, ErrNotFound
	}
	out := make([]chat.Message, len(m.msgs[convID]))
	copy(out, m.msgs[convID])
	return out, nil
}

func (m *MemStore) SetMessageStatus(_ context.Context, convID, msgID, status string) error {
	m.mu.Lock()
	if m.failErr != nil {
		m.mu.Unlock()
		return m.failErr
	}
	msgs := m.msgs[convID]
	idx := -1
	for i := range msgs {
		if msgs[i].ID == msgID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return ErrNotFound
	}
	// Status is monotonic; a stale update is dropped silently.
	if chat.StatusRank(status) <= chat.StatusRank(msgs[idx].Status) {
		m.mu.Unlock()
		return nil
	}
	msgs[idx].Status = status
	updated := msgs[idx]
	subs := m.subscribers(convID)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(updated)
	}
	return nil
}

func (m *MemStore) ResetUnread(_ context.Context, convID, viewerKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	conv, ok := m.convs[convID]
	if !ok {
		return ErrNotFound
	}
	if conv.Participant == nil {
		return nil
	}
	st := conv.Participant[viewerKey]
	st.Unread = 0
	conv.Participant[viewerKey] = st
	return nil
}

func (m *MemStore) ResetUnreadBatch(_ context.Context, resets map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	// Validate first so the batch applies entirely or not at all.
	for id := range resets {
		if _, ok := m.convs[id]; !ok {
			return ErrNotFound
		}
	}
	for id, viewerKey := range resets {
		conv := m.convs[id]
		if conv.Participant == nil {
			continue
		}
		st := conv.Participant[viewerKey]
		st.Unread = 0
		conv.Participant[viewerKey] = st
	}
	return nil
}

func (m *MemStore) SubscribeMessages(_ context.Context, convID string, fn func(chat.Message)) (Subscription, error) {
	m.mu.Lock()
	if m.failErr != nil {
		m.mu.Unlock()
		return nil, m.failErr
	}
	sub := &memSub{
		ch:   make(chan chat.Message, 256),
		stop: make(chan struct{}),
	}
	id := m.next
	m.next++
	if m.subs[convID] == nil {
		m.subs[convID] = make(map[int]*memSub)
	}
	m.subs[convID][id] = sub

	backlog := make([]chat.Message, len(m.msgs[convID]))
	copy(backlog, m.msgs[convID])
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.subs[convID], id)
			m.mu.Unlock()
		}()
		for _, msg := range backlog {
			fn(msg)
		}
		for {
			select {
			case msg := <-sub.ch:
				fn(msg)
			case <-sub.stop:
				return
			}
		}
	}()
	return sub, nil
}

func (s *memSub) deliver(msg chat.Message) {
	select {
	case <-s.stop:
	case s.ch <- msg:
	default:
	}
}

func insertByCreatedAt(msgs []chat.Message, msg chat.Message) []chat.Message {
	var zero time.Time
	at := timeconv.Parse(msg.CreatedAt).Time(zero)
	i := sort.Search(len(msgs), func(i int) bool {
		return timeconv.Parse(msgs[i].CreatedAt).Time(zero).After(at)
	})
	msgs = append(msgs, chat.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	return msgs
}

func cloneConversation(c *chat.Conversation) chat.Conversation {
	return c.Clone()
}
