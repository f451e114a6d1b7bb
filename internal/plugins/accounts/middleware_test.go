package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/isadetaseek/andrea/internal/plugins/identity"
	"github.com/isadetaseek/andrea/internal/plugins/quota"
)

// runRehydrate sends one request through the rehydration middleware. An empty
// token means no session cookie on the request.
func runRehydrate(t *testing.T, prov Provider, reg *identity.Registry, token string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/transcript", nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.Set("visitor_id", "visitor-1")

	mw := RehydrateIdentity(prov, reg)
	handler := mw(func(c echo.Context) error { return nil })
	if err := handler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRehydrateIdentity_RestoresRegistered(t *testing.T) {
	prov := &mockProvider{
		validateSessionFn: func(ctx context.Context, token string) (*Session, error) {
			if token != "token-1" {
				t.Errorf("expected token-1, got %q", token)
			}
			return &Session{AccountID: "acct-1", Email: "a@b.com"}, nil
		},
	}
	reg := identity.NewRegistry(&mockRepo{}, stubGuestQuota{}, true)

	// A fresh registry stands in for a restarted process: the session is
	// still valid but no machine remembers the sign-in.
	runRehydrate(t, prov, reg, "token-1")

	ident := reg.Machine("visitor-1").Current()
	if ident.State != identity.StateRegistered || ident.AccountID != "acct-1" {
		t.Fatalf("expected registered acct-1, got %+v", ident)
	}

	// A count at the guest limit no longer denies the visitor.
	state := quota.State{Count: 3, Limit: 3, Scope: quota.ScopeAccount}
	if !quota.CanChat(ident, state) {
		t.Error("expected the rehydrated identity to be entitled past the guest limit")
	}
}

func TestRehydrateIdentity_RestoresPremium(t *testing.T) {
	prov := &mockProvider{
		validateSessionFn: func(ctx context.Context, token string) (*Session, error) {
			return &Session{AccountID: "acct-1", Email: "a@b.com"}, nil
		},
	}
	repo := &mockRepo{
		ensureDocumentFn: func(ctx context.Context, accountID, email string) (bool, error) {
			return true, nil
		},
	}
	reg := identity.NewRegistry(repo, stubGuestQuota{}, true)

	runRehydrate(t, prov, reg, "token-1")

	ident := reg.Machine("visitor-1").Current()
	if ident.State != identity.StatePremium || !ident.Premium {
		t.Errorf("expected premium restored from the document, got %+v", ident)
	}
}

func TestRehydrateIdentity_NoCookieStaysGuest(t *testing.T) {
	prov := &mockProvider{
		validateSessionFn: func(ctx context.Context, token string) (*Session, error) {
			t.Error("expected no session lookup without a cookie")
			return nil, NewProviderError(CodeRequiresRecentLogin, nil)
		},
	}
	reg := identity.NewRegistry(&mockRepo{}, stubGuestQuota{}, true)

	runRehydrate(t, prov, reg, "")

	if reg.Machine("visitor-1").Current().State != identity.StateGuest {
		t.Error("expected the visitor to stay a guest")
	}
}

func TestRehydrateIdentity_InvalidTokenStaysGuest(t *testing.T) {
	prov := &mockProvider{
		validateSessionFn: func(ctx context.Context, token string) (*Session, error) {
			return nil, NewProviderError(CodeRequiresRecentLogin, nil)
		},
	}
	reg := identity.NewRegistry(&mockRepo{}, stubGuestQuota{}, true)

	runRehydrate(t, prov, reg, "stale-token")

	if reg.Machine("visitor-1").Current().State != identity.StateGuest {
		t.Error("expected the visitor to stay a guest")
	}
}

func TestRehydrateIdentity_SkipsAuthenticatedMachine(t *testing.T) {
	var lookups int
	prov := &mockProvider{
		validateSessionFn: func(ctx context.Context, token string) (*Session, error) {
			lookups++
			return &Session{AccountID: "acct-1", Email: "a@b.com"}, nil
		},
	}
	reg := identity.NewRegistry(&mockRepo{}, stubGuestQuota{}, true)

	machine := reg.Machine("visitor-1")
	if err := machine.LoginSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runRehydrate(t, prov, reg, "token-1")

	if lookups != 0 {
		t.Errorf("expected no session lookup for an already-authenticated machine, got %d", lookups)
	}
}
