package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/isadetaseek/andrea/internal/apperror"
)

// --- Mocks ---

type mockDocStore struct {
	ensureDocumentFn func(ctx context.Context, accountID, email string) (bool, error)
	touchLastLoginFn func(ctx context.Context, accountID string) error
	setPremiumFn     func(ctx context.Context, accountID, plan string) error
}

func (m *mockDocStore) EnsureDocument(ctx context.Context, accountID, email string) (bool, error) {
	if m.ensureDocumentFn != nil {
		return m.ensureDocumentFn(ctx, accountID, email)
	}
	return false, nil
}

func (m *mockDocStore) TouchLastLogin(ctx context.Context, accountID string) error {
	if m.touchLastLoginFn != nil {
		return m.touchLastLoginFn(ctx, accountID)
	}
	return nil
}

func (m *mockDocStore) SetPremium(ctx context.Context, accountID, plan string) error {
	if m.setPremiumFn != nil {
		return m.setPremiumFn(ctx, accountID, plan)
	}
	return nil
}

type mockGuestQuota struct {
	guestCountFn   func(ctx context.Context, visitorID string) (int, error)
	migrateGuestFn func(ctx context.Context, visitorID, accountID string) error
}

func (m *mockGuestQuota) GuestCount(ctx context.Context, visitorID string) (int, error) {
	if m.guestCountFn != nil {
		return m.guestCountFn(ctx, visitorID)
	}
	return 0, nil
}

func (m *mockGuestQuota) MigrateGuest(ctx context.Context, visitorID, accountID string) error {
	if m.migrateGuestFn != nil {
		return m.migrateGuestFn(ctx, visitorID, accountID)
	}
	return nil
}

// changeRecorder collects observed transitions.
type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) IdentityChanged(visitorID string, change Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *changeRecorder) all() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Change, len(r.changes))
	copy(out, r.changes)
	return out
}

// --- Machine Tests ---

func TestMachine_StartsAsGuest(t *testing.T) {
	reg := NewRegistry(&mockDocStore{}, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	ident := m.Current()
	if ident.State != StateGuest {
		t.Errorf("expected guest, got %s", ident.State)
	}
	if ident.IsAuthenticated() {
		t.Error("expected guest to be unauthenticated")
	}
}

func TestRegisterSucceeded_MigratesAndTransitions(t *testing.T) {
	var migratedAccount string
	quota := &mockGuestQuota{
		migrateGuestFn: func(ctx context.Context, visitorID, accountID string) error {
			if visitorID != "visitor-1" {
				t.Errorf("expected visitor-1, got %s", visitorID)
			}
			migratedAccount = accountID
			return nil
		},
	}
	reg := NewRegistry(&mockDocStore{}, quota, true)
	m := reg.Machine("visitor-1")

	if err := m.RegisterSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if migratedAccount != "acct-1" {
		t.Errorf("expected migration into acct-1, got %q", migratedAccount)
	}
	ident := m.Current()
	if ident.State != StateRegistered || ident.AccountID != "acct-1" || ident.Email != "a@b.com" {
		t.Errorf("unexpected identity: %+v", ident)
	}
}

func TestRegisterSucceeded_MigrationFailureStillTransitions(t *testing.T) {
	quota := &mockGuestQuota{
		migrateGuestFn: func(ctx context.Context, visitorID, accountID string) error {
			return errors.New("document store unreachable")
		},
	}
	reg := NewRegistry(&mockDocStore{}, quota, true)
	m := reg.Machine("visitor-1")

	if err := m.RegisterSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("expected registration to stand, got %v", err)
	}
	if m.Current().State != StateRegistered {
		t.Errorf("expected registered, got %s", m.Current().State)
	}
}

func TestLoginSucceeded_Registered(t *testing.T) {
	var touched bool
	docs := &mockDocStore{
		touchLastLoginFn: func(ctx context.Context, accountID string) error {
			touched = true
			return nil
		},
	}
	reg := NewRegistry(docs, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	if err := m.LoginSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ident := m.Current()
	if ident.State != StateRegistered || ident.Premium {
		t.Errorf("unexpected identity: %+v", ident)
	}
	if !touched {
		t.Error("expected last_login to be stamped")
	}
}

func TestLoginSucceeded_RestoresPremiumFromDocument(t *testing.T) {
	docs := &mockDocStore{
		ensureDocumentFn: func(ctx context.Context, accountID, email string) (bool, error) {
			return true, nil
		},
	}
	reg := NewRegistry(docs, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	if err := m.LoginSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ident := m.Current()
	if ident.State != StatePremium || !ident.Premium {
		t.Errorf("expected premium restored from document, got %+v", ident)
	}
}

func TestLoginSucceeded_DocumentFailure(t *testing.T) {
	docs := &mockDocStore{
		ensureDocumentFn: func(ctx context.Context, accountID, email string) (bool, error) {
			return false, errors.New("document store unreachable")
		},
	}
	reg := NewRegistry(docs, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	err := m.LoginSucceeded(context.Background(), "acct-1", "a@b.com")
	if err == nil {
		t.Fatal("expected error")
	}
	if m.Current().State != StateGuest {
		t.Errorf("expected no transition on failure, got %s", m.Current().State)
	}
}

func TestSignedOut_DropsToGuest(t *testing.T) {
	reg := NewRegistry(&mockDocStore{}, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	if err := m.LoginSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SignedOut(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ident := m.Current()
	if ident.State != StateGuest || ident.AccountID != "" || ident.Email != "" {
		t.Errorf("expected a fresh guest identity, got %+v", ident)
	}
}

func TestUpgradeCompleted_FromRegistered(t *testing.T) {
	var gotPlan string
	docs := &mockDocStore{
		setPremiumFn: func(ctx context.Context, accountID, plan string) error {
			gotPlan = plan
			return nil
		},
	}
	reg := NewRegistry(docs, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	if err := m.LoginSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.UpgradeCompleted(context.Background(), "yearly"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotPlan != "yearly" {
		t.Errorf("expected plan yearly persisted, got %q", gotPlan)
	}
	ident := m.Current()
	if ident.State != StatePremium || !ident.Premium {
		t.Errorf("expected premium identity, got %+v", ident)
	}
}

func TestUpgradeCompleted_RejectedForGuest(t *testing.T) {
	reg := NewRegistry(&mockDocStore{}, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	err := m.UpgradeCompleted(context.Background(), "monthly")
	appErr, ok := err.(*apperror.AppError)
	if !ok || appErr.Code != 409 {
		t.Errorf("expected 409 conflict, got %v", err)
	}
}

func TestUpgradeCompleted_RejectedWhenAlreadyPremium(t *testing.T) {
	docs := &mockDocStore{
		ensureDocumentFn: func(ctx context.Context, accountID, email string) (bool, error) {
			return true, nil
		},
	}
	reg := NewRegistry(docs, &mockGuestQuota{}, true)
	m := reg.Machine("visitor-1")

	if err := m.LoginSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := m.UpgradeCompleted(context.Background(), "monthly")
	appErr, ok := err.(*apperror.AppError)
	if !ok || appErr.Code != 409 {
		t.Errorf("expected 409 conflict, got %v", err)
	}
}

// --- Observer Tests ---

func TestObservers_ReceiveSynchronousChanges(t *testing.T) {
	reg := NewRegistry(&mockDocStore{}, &mockGuestQuota{}, true)
	rec := &changeRecorder{}
	reg.Subscribe(rec)

	m := reg.Machine("visitor-1")
	ctx := context.Background()

	if err := m.LoginSucceeded(ctx, "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SignedOut(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	changes := rec.all()
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(changes))
	}
	if changes[0].From != StateGuest || changes[0].To != StateRegistered {
		t.Errorf("unexpected first change: %+v", changes[0])
	}
	if changes[1].From != StateRegistered || changes[1].To != StateGuest {
		t.Errorf("unexpected second change: %+v", changes[1])
	}
}

func TestObserverFunc_Adapts(t *testing.T) {
	var got Change
	reg := NewRegistry(&mockDocStore{}, &mockGuestQuota{}, true)
	reg.Subscribe(ObserverFunc(func(visitorID string, change Change) {
		got = change
	}))

	m := reg.Machine("visitor-1")
	if err := m.LoginSucceeded(context.Background(), "acct-1", "a@b.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != StateRegistered {
		t.Errorf("expected registered change, got %+v", got)
	}
}

// --- Registry Tests ---

func TestRegistry_OneMachinePerVisitor(t *testing.T) {
	reg := NewRegistry(&mockDocStore{}, &mockGuestQuota{}, true)

	a := reg.Machine("visitor-a")
	if reg.Machine("visitor-a") != a {
		t.Error("expected the same machine for the same visitor")
	}
	if reg.Machine("visitor-b") == a {
		t.Error("expected distinct machines for distinct visitors")
	}

	reg.Remove("visitor-a")
	if reg.Machine("visitor-a") == a {
		t.Error("expected a fresh machine after removal")
	}
}

func TestRegistry_Availability(t *testing.T) {
	if !NewRegistry(&mockDocStore{}, &mockGuestQuota{}, true).Available() {
		t.Error("expected available registry")
	}
	if NewRegistry(&mockDocStore{}, &mockGuestQuota{}, false).Available() {
		t.Error("expected degraded registry")
	}
}
