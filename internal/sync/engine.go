// Package sync reconciles the remote conversation/message store with the
// engine's in-memory and cached state.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/remote"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/timeconv"
	"go.uber.org/zap"
)

// MessageEvent is the bus payload for chat.message events.
type MessageEvent struct {
	Message        chat.Message
	ConversationID string
	// Inbound is true for messages authored by the counterpart.
	Inbound bool
	// Recipient is the counterpart's identity for outbound messages; the
	// notification layer uses it as the delivery target.
	Recipient string
}

// Engine performs the remote fetch, get-or-create, send, and live
// subscription operations against the remote store.
type Engine struct {
	store  remote.Store
	ids    identity.Provider
	norm   *timeconv.Normalizer
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEngine creates a sync engine.
func NewEngine(store remote.Store, ids identity.Provider, norm *timeconv.Normalizer, b *bus.Bus, logger *zap.Logger) *Engine {
	if norm == nil {
		norm = timeconv.NewNormalizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, ids: ids, norm: norm, bus: b, logger: logger}
}

// FetchConversations queries the remote store for every conversation whose
// participant set contains any of the current user's identity
// representations and unions the results. The list is raw: callers compose
// with identity.Dedupe.
func (e *Engine) FetchConversations(ctx context.Context) ([]chat.Conversation, error) {
	user, err := e.ids.CurrentUser()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []chat.Conversation
	for _, id := range user.Identities() {
		convs, err := e.store.QueryConversations(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("query conversations for %q: %w", id, err)
		}
		for _, c := range convs {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			e.normalizeConversation(&c)
			out = append(out, c)
		}
	}
	return out, nil
}

// GetOrCreateConversation returns the conversation between the current user
// and otherRef, creating it if necessary. otherRef may be an opaque id or an
// email; when an existing conversation already names the same person by
// opaque id, the engine converges on that thread instead of forking a
// duplicate.
func (e *Engine) GetOrCreateConversation(ctx context.Context, otherRef, otherName string) (*chat.Conversation, error) {
	user, err := e.ids.CurrentUser()
	if err != nil {
		return nil, err
	}
	self := primaryIdentity(user)

	existing, err := e.FetchConversations(ctx)
	if err != nil && !remote.IsTransient(err) {
		return nil, err
	}
	resolved := identity.ResolveCounterpart(otherRef, *user, existing)
	convID := identity.CanonicalConversationID(self, resolved)

	conv, err := e.store.GetConversation(ctx, convID)
	switch {
	case err == nil:
		// Existing thread: refresh the caller's display-name mapping for
		// the counterpart without touching unrelated fields.
		viewerKey := identity.SanitizeKey(self)
		if conv.Participant[viewerKey].DisplayName != otherName && otherName != "" {
			if err := e.store.SetDisplayName(ctx, convID, viewerKey, otherName); err != nil {
				e.logger.Warn("display name refresh failed",
					zap.String("conversation_id", convID), zap.Error(err))
			} else {
				st := conv.Participant[viewerKey]
				st.DisplayName = otherName
				conv.SetParticipantState(viewerKey, st)
			}
		}
		return conv, nil
	case errors.Is(err, remote.ErrNotFound):
		return e.createConversation(ctx, user, self, resolved, otherName, convID)
	default:
		return nil, fmt.Errorf("lookup conversation %q: %w", convID, err)
	}
}

func (e *Engine) createConversation(ctx context.Context, user *identity.User, self, other, otherName, convID string) (*chat.Conversation, error) {
	now := timeconv.Format(e.normNow())
	conv := &chat.Conversation{
		ID:           convID,
		Participants: identity.SortedIdentities([]string{self, other}),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	conv.SetParticipantState(identity.SanitizeKey(self), chat.ParticipantState{DisplayName: otherName})
	conv.SetParticipantState(identity.SanitizeKey(other), chat.ParticipantState{DisplayName: user.Name})

	err := e.store.CreateConversation(ctx, conv)
	if errors.Is(err, remote.ErrExists) {
		// Lost the get-or-create race; the winner's record is canonical.
		return e.store.GetConversation(ctx, convID)
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation %q: %w", convID, err)
	}

	e.logger.Info("conversation created",
		zap.String("conversation_id", convID), zap.String("counterpart", other))
	e.publish(bus.KindConversationUpdated, conv.ID)
	return conv, nil
}

// SendMessage writes a message to a conversation, updating the denormalized
// conversation summary and incrementing the counterpart's unread counter in
// the same remote update.
func (e *Engine) SendMessage(ctx context.Context, convID, content string) (*chat.Message, error) {
	user, err := e.ids.CurrentUser()
	if err != nil {
		return nil, err
	}

	conv, err := e.store.GetConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("lookup conversation %q: %w", convID, err)
	}
	recipient, _ := conv.Counterpart(user.Identities())

	now := timeconv.Format(e.normNow())
	msg := &chat.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       primaryIdentity(user),
		SenderName:     user.Name,
		Content:        content,
		Status:         chat.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := e.store.AppendMessage(ctx, convID, msg, identity.SanitizeKey(recipient)); err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	if e.bus != nil {
		e.bus.Publish(bus.Event{
			Kind: bus.KindMessage,
			Payload: MessageEvent{
				Message:        *msg,
				ConversationID: convID,
				Inbound:        false,
				Recipient:      recipient,
			},
		})
	}
	return msg, nil
}

// Messages returns a conversation's messages ordered by createdAt ascending.
func (e *Engine) Messages(ctx context.Context, convID string) ([]chat.Message, error) {
	msgs, err := e.store.ListMessages(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %q: %w", convID, err)
	}
	for i := range msgs {
		e.normalizeMessage(&msgs[i])
	}
	return msgs, nil
}

// MarkMessageDelivered records a delivery acknowledgement.
func (e *Engine) MarkMessageDelivered(ctx context.Context, convID, msgID string) error {
	return e.store.SetMessageStatus(ctx, convID, msgID, chat.StatusDelivered)
}

// MarkMessageRead records a read acknowledgement.
func (e *Engine) MarkMessageRead(ctx context.Context, convID, msgID string) error {
	return e.store.SetMessageStatus(ctx, convID, msgID, chat.StatusRead)
}

// Stream is a live message subscription with at-most-once delivery per
// message id, regardless of transport redelivery.
type Stream struct {
	sub  remote.Subscription
	once sync.Once

	mu   sync.Mutex
	seen map[string]struct{}
}

// Unsubscribe detaches the stream. Idempotent and safe after connection
// teardown.
func (s *Stream) Unsubscribe() {
	s.once.Do(s.sub.Unsubscribe)
}

// Subscribe opens a live listener on a conversation. fn receives each
// distinct remote message at most once, in the store's createdAt order.
func (e *Engine) Subscribe(ctx context.Context, convID string, fn func(chat.Message)) (*Stream, error) {
	user, err := e.ids.CurrentUser()
	if err != nil {
		return nil, err
	}
	selfIDs := user.Identities()

	stream := &Stream{seen: make(map[string]struct{})}
	sub, err := e.store.SubscribeMessages(ctx, convID, func(msg chat.Message) {
		stream.mu.Lock()
		if _, dup := stream.seen[msg.ID]; dup {
			stream.mu.Unlock()
			return
		}
		stream.seen[msg.ID] = struct{}{}
		stream.mu.Unlock()

		e.normalizeMessage(&msg)
		fn(msg)

		if e.bus != nil {
			inbound := !isSelf(msg.SenderID, selfIDs)
			e.bus.Publish(bus.Event{
				Kind: bus.KindMessage,
				Payload: MessageEvent{
					Message:        msg,
					ConversationID: convID,
					Inbound:        inbound,
				},
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q: %w", convID, err)
	}
	stream.sub = sub
	return stream, nil
}

func (e *Engine) normalizeConversation(c *chat.Conversation) {
	c.CreatedAt = e.norm.Normalize(c.CreatedAt)
	c.UpdatedAt = e.norm.Normalize(c.UpdatedAt)
	// A missing last-message time stays missing: the deduplicator treats
	// it as oldest.
	if c.LastMessageTime != "" {
		c.LastMessageTime = e.norm.Normalize(c.LastMessageTime)
	}
}

func (e *Engine) normalizeMessage(m *chat.Message) {
	m.CreatedAt = e.norm.Normalize(m.CreatedAt)
	m.UpdatedAt = e.norm.Normalize(m.UpdatedAt)
}

func (e *Engine) normNow() time.Time {
	return e.norm.NormalizeTime(nil)
}

func (e *Engine) publish(kind, convID string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Kind: kind, Payload: convID})
}

func primaryIdentity(u *identity.User) string {
	if u.ID != "" {
		return u.ID
	}
	return u.Email
}

func isSelf(ref string, selfIDs []string) bool {
	for _, id := range selfIDs {
		if id == ref {
			return true
		}
	}
	return false
}
