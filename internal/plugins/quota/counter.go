package quota

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

// Key names mirror the widget's browser-storage keys; the store prefixes
// them per visitor.
const (
	guestCountKey  = "conversations"
	backupCountKey = "backup_count"
)

// DocumentCounts is the slice of the account document store the counter
// needs: read the count, and add to it without a separate read. Implemented
// by the accounts repository.
type DocumentCounts interface {
	// ConversationCount reads the account document's turn count.
	ConversationCount(ctx context.Context, accountID string) (int, error)

	// IncrementConversations adds delta to the document's turn count as a
	// single relative operation, so concurrent turns from multiple tabs or
	// devices cannot lose updates. It also stamps last_activity.
	IncrementConversations(ctx context.Context, accountID string, delta int) error
}

// Counter reads and advances the turn count for whichever scope matches the
// visitor's identity: the local store for guests, the account document for
// authenticated users.
type Counter struct {
	local LocalStore
	docs  DocumentCounts
	limit int
}

// NewCounter creates a counter with the given free-turn limit.
func NewCounter(local LocalStore, docs DocumentCounts, limit int) *Counter {
	return &Counter{local: local, docs: docs, limit: limit}
}

// Limit returns the configured free-turn allowance.
func (c *Counter) Limit() int {
	return c.limit
}

// Load returns the current quota state for the visitor. Guest loads fail
// soft: a missing or unparseable local value reads as zero and never returns
// an error. Account loads read the document count; an absent document reads
// as zero (the document is created on sign-in, not here).
func (c *Counter) Load(ctx context.Context, visitorID string, ident identity.Identity) (State, error) {
	if !ident.IsAuthenticated() {
		return c.loadGuest(ctx, visitorID), nil
	}

	count, err := c.docs.ConversationCount(ctx, ident.AccountID)
	if err != nil {
		return State{}, fmt.Errorf("reading account count: %w", err)
	}
	return State{Count: count, Limit: c.limit, Scope: ScopeAccount}, nil
}

// Increment records one consumed turn and returns the new state.
//
// Guest scope is a plain write-after-read against the local store: there is
// no concurrent-writer protection, matching the single-tab browser storage
// it models. Account scope uses the relative increment on the document; if
// the remote write fails the count is banked in the local backup key and the
// turn still completes -- the turn was spent the moment it was allowed.
func (c *Counter) Increment(ctx context.Context, visitorID string, ident identity.Identity) (State, error) {
	if !ident.IsAuthenticated() {
		st := c.loadGuest(ctx, visitorID)
		st.Count++
		if err := c.local.SetItem(ctx, visitorKey(visitorID, guestCountKey), strconv.Itoa(st.Count)); err != nil {
			slog.Warn("guest count write failed",
				slog.String("visitor_id", visitorID),
				slog.Any("error", err),
			)
		}
		return st, nil
	}

	// Best-effort read of the pre-increment count so the caller gets a
	// usable state even when the store is flaky.
	count, readErr := c.docs.ConversationCount(ctx, ident.AccountID)
	if readErr != nil {
		slog.Warn("account count read failed",
			slog.String("account_id", ident.AccountID),
			slog.Any("error", readErr),
		)
	}

	if err := c.docs.IncrementConversations(ctx, ident.AccountID, 1); err != nil {
		// Bank the turn locally; never fail the turn over bookkeeping.
		slog.Warn("account count increment failed, writing local backup",
			slog.String("account_id", ident.AccountID),
			slog.Any("error", err),
		)
		c.bumpBackup(ctx, visitorID)
	}

	return State{Count: count + 1, Limit: c.limit, Scope: ScopeAccount}, nil
}

// MigrateGuest folds the visitor's guest count into the account document via
// the relative increment, then clears the local guest record.
//
// The two steps are not atomic and there is no idempotency key: a retry
// after the increment succeeded but before the clear did will add the guest
// count again. Usage accounting for unlimited accounts tolerates this
// at-least-once behavior.
func (c *Counter) MigrateGuest(ctx context.Context, visitorID, accountID string) error {
	st := c.loadGuest(ctx, visitorID)
	if st.Count > 0 {
		if err := c.docs.IncrementConversations(ctx, accountID, st.Count); err != nil {
			// Keep the local record so a later retry can still migrate it.
			return fmt.Errorf("migrating guest count: %w", err)
		}
	}

	if err := c.local.RemoveItem(ctx, visitorKey(visitorID, guestCountKey)); err != nil {
		slog.Warn("clearing guest count failed",
			slog.String("visitor_id", visitorID),
			slog.Any("error", err),
		)
	}
	return nil
}

// GuestCount reads the visitor's local guest count, failing soft to zero.
func (c *Counter) GuestCount(ctx context.Context, visitorID string) (int, error) {
	return c.loadGuest(ctx, visitorID).Count, nil
}

// loadGuest reads the guest count from the local store. Absent keys,
// unparseable values, and store errors all read as zero.
func (c *Counter) loadGuest(ctx context.Context, visitorID string) State {
	st := State{Limit: c.limit, Scope: ScopeGuest}

	val, ok, err := c.local.GetItem(ctx, visitorKey(visitorID, guestCountKey))
	if err != nil {
		slog.Warn("guest count read failed",
			slog.String("visitor_id", visitorID),
			slog.Any("error", err),
		)
		return st
	}
	if !ok {
		return st
	}

	count, err := strconv.Atoi(val)
	if err != nil || count < 0 {
		return st
	}
	st.Count = count
	return st
}

// bumpBackup advances the local backup count used when remote writes fail.
func (c *Counter) bumpBackup(ctx context.Context, visitorID string) {
	key := visitorKey(visitorID, backupCountKey)
	backup := 0
	if val, ok, err := c.local.GetItem(ctx, key); err == nil && ok {
		if n, convErr := strconv.Atoi(val); convErr == nil {
			backup = n
		}
	}
	if err := c.local.SetItem(ctx, key, strconv.Itoa(backup+1)); err != nil {
		slog.Warn("backup count write failed",
			slog.String("visitor_id", visitorID),
			slog.Any("error", err),
		)
	}
}

// visitorKey namespaces a widget-storage key by visitor.
func visitorKey(visitorID, key string) string {
	return visitorID + ":" + key
}
