// Package quota meters conversation turns. Guests get a fixed number of free
// turns counted in a local per-visitor store; authenticated accounts are
// unlimited, with their usage counted in the remote account document via a
// relative increment so concurrent tabs and devices can't lose updates.
package quota

// Scope says which backing store a quota state was read from.
type Scope string

const (
	// ScopeGuest counts live in the local visitor store.
	ScopeGuest Scope = "guest"

	// ScopeAccount counts live in the remote account document.
	ScopeAccount Scope = "account"
)

// State is a point-in-time view of a visitor's turn usage. It is always
// recomputed from the backing store, never persisted as a unit.
type State struct {
	// Count is the number of turns consumed in the active scope.
	Count int `json:"count"`

	// Limit is the free-turn allowance for guests. Authenticated scopes
	// carry the same number for display but are never limited by it.
	Limit int `json:"limit"`

	// Scope identifies the active backing store.
	Scope Scope `json:"scope"`
}

// Remaining returns how many free turns are left, never negative.
func (s State) Remaining() int {
	if r := s.Limit - s.Count; r > 0 {
		return r
	}
	return 0
}
