// ABOUTME: Family-level policy for the built-in system caretaker
// ABOUTME: Shared by PIN login and credential resolution

package auth

import "github.com/2389/nursery-gateway/internal/store"

// SystemCaretakerEnabled reports whether a family's system caretaker
// (login id "00") may log in or keep a session. It is disabled when the
// family requires per-caretaker logins, and disabled once the family has any
// active regular caretaker. Both conditions are checked every time.
func SystemCaretakerEnabled(authMode string, regularCount int) bool {
	if authMode == store.AuthModeCaretaker {
		return false
	}
	if regularCount > 0 {
		return false
	}
	return true
}
