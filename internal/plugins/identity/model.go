// Package identity tracks which of the three access states a widget visitor
// is in -- Guest, Registered, or Premium -- and orchestrates the side effects
// of moving between them: bootstrapping the remote account document, migrating
// the guest conversation count into it, and reloading guest state on sign-out.
//
// Each visitor gets one Machine, owned by the Registry and injected into the
// chat controller. There is no ambient global session object; everything that
// needs the current identity holds a Machine reference.
package identity

// State is the visitor's access level.
type State int

const (
	// StateGuest is an unauthenticated visitor. Conversation turns are
	// metered against the local guest store.
	StateGuest State = iota

	// StateRegistered is an authenticated account with unlimited turns,
	// counted in the remote account document.
	StateRegistered

	// StatePremium is a registered account with the premium flag set.
	// No metering difference from Registered; the flag gates UI features.
	StatePremium
)

// String returns the lowercase state name used in events and logs.
func (s State) String() string {
	switch s {
	case StateGuest:
		return "guest"
	case StateRegistered:
		return "registered"
	case StatePremium:
		return "premium"
	default:
		return "unknown"
	}
}

// Identity is a snapshot of who the visitor currently is. Guest identities
// carry no account ID or email.
type Identity struct {
	State     State  `json:"state"`
	AccountID string `json:"account_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Premium   bool   `json:"premium"`
}

// Guest returns the identity every visitor starts in.
func Guest() Identity {
	return Identity{State: StateGuest}
}

// IsAuthenticated returns true for Registered and Premium identities.
func (i Identity) IsAuthenticated() bool {
	return i.State == StateRegistered || i.State == StatePremium
}

// Change describes one completed transition, delivered synchronously to
// observers the moment it happens.
type Change struct {
	From     State    `json:"from"`
	To       State    `json:"to"`
	Identity Identity `json:"identity"`
}

// Observer receives identity transitions for a visitor. Implementations must
// not block: notifications are delivered synchronously on the transition path.
type Observer interface {
	IdentityChanged(visitorID string, change Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(visitorID string, change Change)

// IdentityChanged calls f(visitorID, change).
func (f ObserverFunc) IdentityChanged(visitorID string, change Change) {
	f(visitorID, change)
}
