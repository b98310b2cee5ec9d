// Package chat holds the domain model for 1:1 conversations and messages.
package chat

import "strings"

// Message status values. Transitions are forward-only:
// SENT -> DELIVERED -> READ.
const (
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
)

// StatusRank orders message statuses for monotonicity checks. Unknown
// statuses rank lowest so they can never demote a known one.
func StatusRank(status string) int {
	switch status {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// ParticipantState is the per-viewer slice of a conversation: the display
// name that viewer sees for the counterpart, and that viewer's own unread
// counter. Keyed in Conversation.Participant by the viewer's sanitized
// identity.
type ParticipantState struct {
	DisplayName string `json:"displayName"`
	Unread      int    `json:"unreadCount"`
}

// Conversation is a 1:1 chat thread keyed by a canonical, order-independent
// id derived from the two participant identities.
type Conversation struct {
	ID           string   `json:"id"`
	Participants []string `json:"participants"`

	// Participant maps a sanitized viewer identity to that viewer's state.
	Participant map[string]ParticipantState `json:"participant,omitempty"`

	// Name is a shared fallback display name, used when no per-viewer
	// mapping exists.
	Name string `json:"name,omitempty"`

	LastMessageContent string `json:"lastMessageContent,omitempty"`
	LastMessageTime    string `json:"lastMessageTime,omitempty"`

	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

// Message is one chat message within a conversation.
type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	SenderName     string `json:"senderName"`
	Content        string `json:"content"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}

// Counterpart returns the first participant that is not one of the viewer's
// own identity representations, and whether one was found. A conversation
// whose participant list collapses entirely onto the viewer (malformed or
// self-conversation) reports false.
func (c *Conversation) Counterpart(selfIdentities []string) (string, bool) {
	self := make(map[string]struct{}, len(selfIdentities))
	for _, id := range selfIdentities {
		if id != "" {
			self[id] = struct{}{}
		}
	}
	for _, p := range c.Participants {
		if p == "" {
			continue
		}
		if _, mine := self[p]; !mine {
			return p, true
		}
	}
	return "", false
}

// UnreadFor returns the viewer's unread counter. viewerKey must already be
// sanitized. Absent state counts as zero.
func (c *Conversation) UnreadFor(viewerKey string) int {
	if c.Participant == nil {
		return 0
	}
	return c.Participant[viewerKey].Unread
}

// DisplayNameFor computes the conversation title for a viewer: the viewer's
// own name mapping first, then the shared name, then the local part of the
// counterpart's email if the counterpart is referenced by email, and finally
// the raw counterpart reference.
func (c *Conversation) DisplayNameFor(viewerKey string, selfIdentities []string) string {
	if c.Participant != nil {
		if st, ok := c.Participant[viewerKey]; ok && st.DisplayName != "" {
			return st.DisplayName
		}
	}
	if c.Name != "" {
		return c.Name
	}
	other, ok := c.Counterpart(selfIdentities)
	if !ok {
		return c.ID
	}
	if at := strings.IndexByte(other, '@'); at > 0 {
		return other[:at]
	}
	return other
}

// SetParticipantState updates one viewer's state slice, allocating the map
// on first use.
func (c *Conversation) SetParticipantState(viewerKey string, st ParticipantState) {
	if c.Participant == nil {
		c.Participant = make(map[string]ParticipantState, 2)
	}
	c.Participant[viewerKey] = st
}

// Clone returns a deep copy. Mutating the copy's participant list or state
// map never touches the original.
func (c Conversation) Clone() Conversation {
	out := c
	if c.Participants != nil {
		out.Participants = make([]string, len(c.Participants))
		copy(out.Participants, c.Participants)
	}
	if c.Participant != nil {
		out.Participant = make(map[string]ParticipantState, len(c.Participant))
		for k, v := range c.Participant {
			out.Participant[k] = v
		}
	}
	return out
}

// CloneAll deep-copies a conversation list. A nil list stays nil.
func CloneAll(conversations []Conversation) []Conversation {
	if conversations == nil {
		return nil
	}
	out := make([]Conversation, len(conversations))
	for i := range conversations {
		out[i] = conversations[i].Clone()
	}
	return out
}
