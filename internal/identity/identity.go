// Package identity resolves the inconsistent user references found in
// conversation records. The same person may be keyed by an opaque user id in
// one record and by an email address in another; this package absorbs that
// inconsistency instead of treating it as an error.
package identity

import (
	"errors"
	"sort"
	"strings"

	"github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/chat"
)

// ErrNotAuthenticated is returned by a Provider when no user is signed in.
var ErrNotAuthenticated = errors.New("no authenticated user")

// User is the read-only identity exposed by the authentication collaborator.
type User struct {
	ID    string
	Email string
	Name  string
}

// Identities returns every representation that may stand for this user in
// persisted records.
func (u User) Identities() []string {
	ids := make([]string, 0, 2)
	if u.ID != "" {
		ids = append(ids, u.ID)
	}
	if u.Email != "" && u.Email != u.ID {
		ids = append(ids, u.Email)
	}
	return ids
}

// Provider answers "who am I" for every component that needs it.
type Provider interface {
	CurrentUser() (*User, error)
}

// StaticProvider is a Provider with a fixed user, used by tests and by
// shells that manage authentication themselves.
type StaticProvider struct {
	User *User
}

func (p *StaticProvider) CurrentUser() (*User, error) {
	if p == nil || p.User == nil {
		return nil, ErrNotAuthenticated
	}
	return p.User, nil
}

// CanonicalConversationID derives the order-independent conversation key for
// two participant references: sort lexicographically, join with "_".
func CanonicalConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "_" + b
}

// Characters the remote store rejects in document field names.
const keyUnsafe = "./#$[]"

// SanitizeKey converts an identity representation into a form safe to use as
// a map field key in the remote document store and as a filesystem path
// segment.
func SanitizeKey(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		if strings.IndexByte(keyUnsafe, id[i]) >= 0 {
			b.WriteByte('_')
			continue
		}
		b.WriteByte(id[i])
	}
	return b.String()
}

// LooksLikeEmail reports whether an identity reference is an email address
// rather than an opaque user id.
func LooksLikeEmail(ref string) bool {
	at := strings.IndexByte(ref, '@')
	if at <= 0 || at == len(ref)-1 {
		return false
	}
	return strings.IndexByte(ref[at+1:], '.') > 0
}

// ResolveCounterpart maps a raw counterpart reference onto the identity the
// canonical store actually uses for that person. When the reference is an
// email but one of the user's existing conversations already names the same
// person by opaque id, the opaque id wins so that get-or-create converges on
// the existing thread. With no match the raw reference is used as-is; a new
// email-keyed conversation is suboptimal but functional.
func ResolveCounterpart(raw string, self User, existing []chat.Conversation) string {
	if !LooksLikeEmail(raw) {
		return raw
	}
	selfIDs := self.Identities()
	for _, conv := range existing {
		other, ok := conv.Counterpart(selfIDs)
		if !ok {
			continue
		}
		if other == raw {
			// Only the email variant is known for this person; look for a
			// sibling record keyed by id.
			continue
		}
		if LooksLikeEmail(other) {
			continue
		}
		// An id-keyed conversation exists; check whether its stored state
		// ties that id back to the email we were handed.
		if conversationMentionsEmail(conv, raw) {
			return other
		}
	}
	return raw
}

// conversationMentionsEmail reports whether a conversation's participant
// state or participant list references the given email.
func conversationMentionsEmail(conv chat.Conversation, email string) bool {
	sanitized := SanitizeKey(email)
	for key := range conv.Participant {
		if key == sanitized {
			return true
		}
	}
	for _, p := range conv.Participants {
		if p == email {
			return true
		}
	}
	return false
}

// SortedIdentities returns a stable copy of identity representations, used
// when a deterministic participant order is needed for new records.
func SortedIdentities(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}
