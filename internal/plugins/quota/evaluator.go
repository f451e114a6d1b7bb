package quota

import "github.com/isadetaseek/andrea/internal/plugins/identity"

// CanChat decides whether the next conversation turn is allowed. Registered
// and premium identities always may; guests may while their count is under
// the limit. Pure predicate: no I/O, no side effects, recomputed on every
// attempted turn rather than cached anywhere.
func CanChat(ident identity.Identity, state State) bool {
	if ident.IsAuthenticated() || ident.Premium {
		return true
	}
	return state.Count < state.Limit
}
