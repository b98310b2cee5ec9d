package identity

import (
	"time"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/timeconv"
)

// Dedupe collapses conversation records that resolve to the same counterpart
// into the single most recently active record. Records created under
// inconsistent identity schemes (opaque id in one, email in another) show up
// as distinct rows for the same person; an email-keyed record folds onto the
// id-keyed one when any record ties the id back to that email, and only the
// freshest record of each group survives.
//
// Conversations with no identifiable counterpart are kept aside and appended
// only when grouping produced nothing else. If the result would be empty the
// original list is returned unchanged: a resolver quirk must never hide every
// conversation.
func Dedupe(conversations []chat.Conversation, selfIdentities []string) []chat.Conversation {
	if len(conversations) == 0 {
		return conversations
	}

	type slot struct {
		conv chat.Conversation
		at   time.Time
	}
	zero := time.Time{}

	byOther := make(map[string]slot)
	order := make([]string, 0, len(conversations))
	var orphans []chat.Conversation

	for _, c := range conversations {
		other, ok := c.Counterpart(selfIdentities)
		if !ok {
			orphans = append(orphans, c)
			continue
		}
		other = foldEmailAlias(other, selfIdentities, conversations)
		// Missing lastMessageTime sorts as oldest.
		at := zero
		if c.LastMessageTime != "" {
			at = timeconv.Parse(c.LastMessageTime).Time(zero)
		}
		existing, seen := byOther[other]
		if !seen {
			byOther[other] = slot{conv: c, at: at}
			order = append(order, other)
			continue
		}
		if at.After(existing.at) {
			byOther[other] = slot{conv: c, at: at}
		}
	}

	result := make([]chat.Conversation, 0, len(order))
	for _, other := range order {
		result = append(result, byOther[other].conv)
	}
	if len(result) == 0 {
		result = append(result, orphans...)
	}
	if len(result) == 0 {
		return conversations
	}
	return result
}

// foldEmailAlias maps an email counterpart onto the opaque id used for the
// same person elsewhere in the list. An id-keyed record is linked to the
// email when its stored state mentions it, the same linkage ResolveCounterpart
// uses for get-or-create. With no linked record the email stands on its own.
func foldEmailAlias(other string, selfIdentities []string, conversations []chat.Conversation) string {
	if !LooksLikeEmail(other) {
		return other
	}
	for _, conv := range conversations {
		cp, ok := conv.Counterpart(selfIdentities)
		if !ok || cp == other || LooksLikeEmail(cp) {
			continue
		}
		if conversationMentionsEmail(conv, other) {
			return cp
		}
	}
	return other
}
