package quota

import (
	"testing"

	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

func TestCanChat_GuestUnderLimit(t *testing.T) {
	guest := identity.Guest()

	for count := 0; count < 3; count++ {
		state := State{Count: count, Limit: 3, Scope: ScopeGuest}
		if !CanChat(guest, state) {
			t.Errorf("count=%d limit=3: expected guest to be allowed", count)
		}
	}
}

func TestCanChat_GuestAtOrOverLimit(t *testing.T) {
	guest := identity.Guest()

	for _, count := range []int{3, 4, 100} {
		state := State{Count: count, Limit: 3, Scope: ScopeGuest}
		if CanChat(guest, state) {
			t.Errorf("count=%d limit=3: expected guest to be denied", count)
		}
	}
}

func TestCanChat_AuthenticatedAlwaysAllowed(t *testing.T) {
	identities := []identity.Identity{
		{State: identity.StateRegistered, AccountID: "acct-1"},
		{State: identity.StatePremium, AccountID: "acct-1", Premium: true},
	}

	for _, ident := range identities {
		for _, count := range []int{0, 3, 1000} {
			state := State{Count: count, Limit: 3, Scope: ScopeAccount}
			if !CanChat(ident, state) {
				t.Errorf("state=%s count=%d: expected allowed regardless of count",
					ident.State, count)
			}
		}
	}
}

func TestCanChat_IsPure(t *testing.T) {
	guest := identity.Guest()
	state := State{Count: 2, Limit: 3, Scope: ScopeGuest}

	first := CanChat(guest, state)
	second := CanChat(guest, state)
	if first != second {
		t.Error("expected identical results for identical inputs")
	}
	if state.Count != 2 {
		t.Error("expected the quota state to be untouched")
	}
}

func TestRemaining(t *testing.T) {
	tests := []struct {
		count, limit, want int
	}{
		{0, 3, 3},
		{2, 3, 1},
		{3, 3, 0},
		{5, 3, 0},
	}

	for _, tt := range tests {
		state := State{Count: tt.count, Limit: tt.limit}
		if got := state.Remaining(); got != tt.want {
			t.Errorf("count=%d limit=%d: expected remaining %d, got %d",
				tt.count, tt.limit, tt.want, got)
		}
	}
}
