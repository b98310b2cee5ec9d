package session

import "github.com/koushikreddyvayalpati/TruStudSel-sub003/internal/identity"

const DefaultProfileKey = "default"

// ProfileKey derives the profile directory name for a user, preferring the
// opaque id over the email. An anonymous user maps to the shared default
// profile.
func ProfileKey(u *identity.User) string {
	if u == nil {
		return DefaultProfileKey
	}
	if u.ID != "" {
		return identity.SanitizeKey(u.ID)
	}
	if u.Email != "" {
		return identity.SanitizeKey(u.Email)
	}
	return DefaultProfileKey
}
