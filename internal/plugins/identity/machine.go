package identity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/isadetaseek/andrea/internal/apperror"
)

// DocumentStore is the slice of the account document store the machine
// drives on transitions. Implemented by the accounts repository.
type DocumentStore interface {
	// EnsureDocument loads the account document, creating it with a zero
	// conversation count if absent, and reports whether the premium flag
	// is set. The document is authoritative: a premium account stays
	// premium across sign-out and sign-in.
	EnsureDocument(ctx context.Context, accountID, email string) (premium bool, err error)

	// TouchLastLogin stamps the document's last_login field.
	TouchLastLogin(ctx context.Context, accountID string) error

	// SetPremium sets the premium flag and plan on the document.
	SetPremium(ctx context.Context, accountID, plan string) error
}

// GuestQuota is the slice of the quota counter the machine drives when a
// guest becomes an account holder. Implemented by the quota counter.
type GuestQuota interface {
	// GuestCount reads the visitor's locally stored turn count.
	GuestCount(ctx context.Context, visitorID string) (int, error)

	// MigrateGuest adds the visitor's guest count to the account document
	// via a relative increment and clears the local guest record.
	MigrateGuest(ctx context.Context, visitorID, accountID string) error
}

// Machine owns the identity state for a single visitor. All transitions go
// through its event methods; each successful transition is published
// synchronously to the registry's observers.
type Machine struct {
	mu        sync.Mutex
	visitorID string
	current   Identity
	registry  *Registry
}

// VisitorID returns the visitor this machine belongs to.
func (m *Machine) VisitorID() string {
	return m.visitorID
}

// Current returns a snapshot of the visitor's identity.
func (m *Machine) Current() Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RegisterSucceeded reacts to a successful account creation: the provider
// has already created the account document with a zero count, so the only
// remaining work is migrating any guest turns into it and moving to
// Registered.
//
// Migration is at-least-once: the relative increment and the local clear are
// not atomic, so a retried registration after a partial failure can add the
// guest count twice. The increment is attempted first; if it fails the local
// record is kept so a later retry can still migrate it.
func (m *Machine) RegisterSucceeded(ctx context.Context, accountID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.registry.quota.MigrateGuest(ctx, m.visitorID, accountID); err != nil {
		// The account exists and registration stands; losing the guest
		// count only under-reports usage for an unlimited account.
		slog.Warn("guest count migration failed",
			slog.String("visitor_id", m.visitorID),
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
	}

	m.transition(Identity{
		State:     StateRegistered,
		AccountID: accountID,
		Email:     email,
	})
	return nil
}

// LoginSucceeded reacts to a successful sign-in: it bootstraps the account
// document if this account predates the document schema, restores the
// premium flag from the document, and stamps last_login.
func (m *Machine) LoginSucceeded(ctx context.Context, accountID, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	premium, err := m.registry.docs.EnsureDocument(ctx, accountID, email)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("loading account document: %w", err))
	}

	if err := m.registry.docs.TouchLastLogin(ctx, accountID); err != nil {
		// Non-critical bookkeeping.
		slog.Warn("failed to update last login",
			slog.String("account_id", accountID),
			slog.Any("error", err),
		)
	}

	state := StateRegistered
	if premium {
		state = StatePremium
	}
	m.transition(Identity{
		State:     state,
		AccountID: accountID,
		Email:     email,
		Premium:   premium,
	})
	return nil
}

// SignedOut drops back to Guest. The guest quota is not resynthesized from
// the account's count: the next turn loads whatever the local guest store
// holds, which is empty after a successful migration.
func (m *Machine) SignedOut(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.transition(Guest())
	return nil
}

// UpgradeCompleted reacts to a finished (simulated) payment: it persists the
// premium flag on the account document and moves to Premium. Only valid from
// Registered.
func (m *Machine) UpgradeCompleted(ctx context.Context, plan string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State != StateRegistered {
		return apperror.NewConflict("only a registered account can upgrade to premium")
	}

	if err := m.registry.docs.SetPremium(ctx, m.current.AccountID, plan); err != nil {
		return apperror.NewInternal(fmt.Errorf("setting premium flag: %w", err))
	}

	next := m.current
	next.State = StatePremium
	next.Premium = true
	m.transition(next)
	return nil
}

// transition swaps the current identity and notifies observers. Callers must
// hold m.mu. Observers run synchronously so the presentation layer sees the
// change before the triggering request returns.
func (m *Machine) transition(next Identity) {
	from := m.current.State
	m.current = next

	slog.Info("identity transition",
		slog.String("visitor_id", m.visitorID),
		slog.String("from", from.String()),
		slog.String("to", next.State.String()),
	)

	change := Change{From: from, To: next.State, Identity: next}
	for _, o := range m.registry.observers() {
		o.IdentityChanged(m.visitorID, change)
	}
}

// Registry owns one Machine per visitor and the shared observer list.
// Machines are created lazily on first use and removed when a widget
// session is torn down.
type Registry struct {
	mu       sync.Mutex
	docs     DocumentStore
	quota    GuestQuota
	machines map[string]*Machine
	subs     []Observer

	// available is false when the document store was unreachable at
	// startup. Machines still exist but every visitor is pinned to Guest:
	// the quota keeps being enforced locally and auth-dependent features
	// are off.
	available bool
}

// NewRegistry creates a machine registry backed by the given document store
// and quota counter. Pass available=false to run in the degraded
// guest-forever mode when the document store is down at startup.
func NewRegistry(docs DocumentStore, quota GuestQuota, available bool) *Registry {
	return &Registry{
		docs:      docs,
		quota:     quota,
		machines:  make(map[string]*Machine),
		available: available,
	}
}

// Available reports whether identity transitions beyond Guest are possible.
func (r *Registry) Available() bool {
	return r.available
}

// Subscribe registers an observer for all machines' transitions. Must be
// called during wiring, before traffic arrives.
func (r *Registry) Subscribe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, o)
}

// observers returns the current observer list.
func (r *Registry) observers() []Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs
}

// Machine returns the visitor's machine, creating a fresh Guest machine on
// first use.
func (r *Registry) Machine(visitorID string) *Machine {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.machines[visitorID]; ok {
		return m
	}
	m := &Machine{
		visitorID: visitorID,
		current:   Guest(),
		registry:  r,
	}
	r.machines[visitorID] = m
	return m
}

// Remove forgets a visitor's machine. Called by the idle sweep; the next
// request recreates a Guest machine, rehydrated from the session if one
// is still valid.
func (r *Registry) Remove(visitorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.machines, visitorID)
}
