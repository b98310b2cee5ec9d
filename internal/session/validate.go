package session

import (
	"fmt"
	"regexp"
)

// Profile keys are sanitized identities; '@' survives sanitization, path
// separators and remote-store specials do not.
var keyRegexp = regexp.MustCompile(`^[A-Za-z0-9@_-]{1,128}$`)

// ValidateKey checks that key is safe to use as a profile directory name.
func ValidateKey(key string) error {
	if !keyRegexp.MatchString(key) {
		return fmt.Errorf("invalid profile key %q: must match ^[A-Za-z0-9@_-]{1,128}$", key)
	}
	return nil
}
