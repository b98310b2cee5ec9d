package chatstore

import (
	"context"
	gosync "sync"
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/bus"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/status"
	"go.uber.org/zap"
)

const markReadTimeout = 5 * time.Second

// OpenConversation loads the message history for one conversation and
// attaches a live subscription that invokes fn for each later message.
// At most one live subscription exists per conversation id: opening a
// conversation that is already open tears the old subscription down first.
// Messages already present in the returned history are never redelivered
// through fn, and incoming messages authored by the other party are marked
// read as they arrive.
func (s *Store) OpenConversation(ctx context.Context, convID string, fn func(chat.Message)) ([]chat.Message, error) {
	user, err := s.ids.CurrentUser()
	if err != nil {
		return nil, &Error{Message: MsgLoadFailed, Err: err}
	}
	self := make(map[string]struct{})
	viewerKeys := make([]string, 0, 2)
	for _, id := range user.Identities() {
		self[id] = struct{}{}
		viewerKeys = append(viewerKeys, identity.SanitizeKey(id))
	}

	s.teardownSubscription(convID)

	machine := status.NewMachine(convID, s.bus)
	if err := machine.Transition(status.Subscribing); err != nil {
		return nil, err
	}

	initial, err := s.engine.Messages(ctx, convID)
	if err != nil {
		_ = machine.Transition(status.Unsubscribed)
		return nil, s.loadError(convID, err)
	}

	// The subscription replays recent history; anything already merged
	// into the initial slice must not reach fn a second time.
	var seenMu gosync.Mutex
	seen := make(map[string]struct{}, len(initial))
	for _, m := range initial {
		seen[m.ID] = struct{}{}
	}

	stream, err := s.engine.Subscribe(ctx, convID, func(msg chat.Message) {
		seenMu.Lock()
		if _, dup := seen[msg.ID]; dup {
			seenMu.Unlock()
			return
		}
		seen[msg.ID] = struct{}{}
		seenMu.Unlock()

		if _, ours := self[msg.SenderID]; !ours {
			s.applyIncoming(convID, msg, viewerKeys)
			s.markIncomingRead(convID, msg.ID)
		}
		if fn != nil {
			fn(msg)
		}
	})
	if err != nil {
		_ = machine.Transition(status.Unsubscribed)
		return nil, s.loadError(convID, err)
	}

	if err := machine.Transition(status.Live); err != nil {
		stream.Unsubscribe()
		return nil, err
	}

	s.mu.Lock()
	s.subs[convID] = &liveConversation{machine: machine, stream: stream}
	s.mu.Unlock()

	return initial, nil
}

// CloseConversation drops the live subscription for one conversation, if
// any. Idempotent.
func (s *Store) CloseConversation(convID string) {
	s.teardownSubscription(convID)
}

func (s *Store) teardownSubscription(convID string) {
	s.mu.Lock()
	lc := s.subs[convID]
	delete(s.subs, convID)
	s.mu.Unlock()

	if lc == nil {
		return
	}
	lc.stream.Unsubscribe()
	_ = lc.machine.Transition(status.Unsubscribed)
}

// SubscriptionState reports the lifecycle state of a conversation's
// subscription.
func (s *Store) SubscriptionState(convID string) status.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lc, ok := s.subs[convID]; ok {
		return lc.machine.Current()
	}
	return status.Unsubscribed
}

// Send clears the conversation's draft, then creates the message. On
// failure the draft is restored and a user-facing *Error returned; the
// message is never silently dropped or retried.
func (s *Store) Send(ctx context.Context, convID, content string) error {
	if content == "" {
		return nil
	}

	s.mu.Lock()
	s.drafts[convID] = ""
	s.mu.Unlock()

	_, err := s.engine.SendMessage(ctx, convID, content)
	if err == nil {
		return nil
	}

	s.mu.Lock()
	s.drafts[convID] = content
	s.mu.Unlock()

	s.logger.Warn("send failed",
		zap.String("conversation_id", convID),
		zap.Error(err))
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindSendFailed, Payload: convID})
	}

	if isReset(err) {
		s.invalidateCache()
		return &Error{Message: MsgConversationReset, Err: err}
	}
	return &Error{Message: MsgSendFailed, Err: err}
}

// DraftFor returns the unsent input buffer for a conversation.
func (s *Store) DraftFor(convID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[convID]
}

// SetDraft records the input buffer as the user types, so a restored
// screen shows what was left unsent.
func (s *Store) SetDraft(convID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.drafts, convID)
		return
	}
	s.drafts[convID] = text
}

// loadError maps a history-load failure to its user-facing form. A
// not-found or permission-denied answer for a conversation we previously
// knew about means the backend was reset underneath us.
func (s *Store) loadError(convID string, err error) error {
	if isReset(err) && s.knownConversation(convID) {
		s.invalidateCache()
		return &Error{Message: MsgConversationReset, Err: err}
	}
	return &Error{Message: MsgLoadFailed, Err: err}
}

func (s *Store) knownConversation(convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		if c.ID == convID {
			return true
		}
	}
	return false
}

// applyIncoming echoes a counterpart's denormalized write into the working
// copy: summary fields plus the viewer's unread counter, kept under
// whichever identity key already holds it.
func (s *Store) applyIncoming(convID string, msg chat.Message, viewerKeys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.convs {
		if s.convs[i].ID != convID {
			continue
		}
		c := &s.convs[i]
		c.LastMessageContent = msg.Content
		c.LastMessageTime = msg.CreatedAt
		c.UpdatedAt = msg.UpdatedAt

		if len(viewerKeys) == 0 {
			return
		}
		key := viewerKeys[0]
		for _, k := range viewerKeys {
			if st, ok := c.Participant[k]; ok && st.Unread > 0 {
				key = k
				break
			}
		}
		st := c.Participant[key]
		st.Unread++
		c.SetParticipantState(key, st)
		return
	}
}

// markIncomingRead flags a just-received message as read and zeroes the
// conversation counter. Runs off the subscription callback with its own
// deadline so a slow remote cannot stall delivery.
func (s *Store) markIncomingRead(convID, msgID string) {
	ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
	defer cancel()

	if err := s.engine.MarkMessageRead(ctx, convID, msgID); err != nil {
		s.logger.Warn("mark read failed",
			zap.String("conversation_id", convID),
			zap.String("message_id", msgID),
			zap.Error(err))
	}
	if err := s.MarkConversationRead(ctx, convID); err != nil {
		s.logger.Warn("reset unread failed",
			zap.String("conversation_id", convID),
			zap.Error(err))
	}
}
