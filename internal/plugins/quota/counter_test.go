package quota

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

// --- Mock DocumentCounts ---

type mockDocCounts struct {
	conversationCountFn      func(ctx context.Context, accountID string) (int, error)
	incrementConversationsFn func(ctx context.Context, accountID string, delta int) error
}

func (m *mockDocCounts) ConversationCount(ctx context.Context, accountID string) (int, error) {
	if m.conversationCountFn != nil {
		return m.conversationCountFn(ctx, accountID)
	}
	return 0, nil
}

func (m *mockDocCounts) IncrementConversations(ctx context.Context, accountID string, delta int) error {
	if m.incrementConversationsFn != nil {
		return m.incrementConversationsFn(ctx, accountID, delta)
	}
	return nil
}

// --- Test Helpers ---

// newTestCounter creates a counter over a miniredis-backed local store.
func newTestCounter(t *testing.T, docs DocumentCounts, limit int) (*Counter, LocalStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	local := NewRedisLocalStore(rdb)
	return NewCounter(local, docs, limit), local
}

var registered = identity.Identity{State: identity.StateRegistered, AccountID: "acct-1"}

// --- Guest Tests ---

func TestLoad_GuestMissingRecordReadsZero(t *testing.T) {
	counter, _ := newTestCounter(t, &mockDocCounts{}, 3)

	state, err := counter.Load(context.Background(), "visitor-1", identity.Guest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Count != 0 || state.Scope != ScopeGuest || state.Limit != 3 {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestLoad_GuestIsIdempotent(t *testing.T) {
	counter, _ := newTestCounter(t, &mockDocCounts{}, 3)
	ctx := context.Background()

	if _, err := counter.Increment(ctx, "visitor-1", identity.Guest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, _ := counter.Load(ctx, "visitor-1", identity.Guest())
	second, _ := counter.Load(ctx, "visitor-1", identity.Guest())
	if first != second {
		t.Errorf("expected identical states, got %+v and %+v", first, second)
	}
}

func TestIncrement_GuestRoundTrip(t *testing.T) {
	counter, _ := newTestCounter(t, &mockDocCounts{}, 3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		state, err := counter.Increment(ctx, "visitor-1", identity.Guest())
		if err != nil {
			t.Fatalf("increment %d: unexpected error: %v", i, err)
		}
		if state.Count != i {
			t.Errorf("increment %d: expected count %d, got %d", i, i, state.Count)
		}

		loaded, err := counter.Load(ctx, "visitor-1", identity.Guest())
		if err != nil {
			t.Fatalf("load %d: unexpected error: %v", i, err)
		}
		if loaded.Count != i {
			t.Errorf("load %d: expected count %d, got %d", i, i, loaded.Count)
		}
	}
}

func TestLoad_GuestUnparseableValueReadsZero(t *testing.T) {
	counter, local := newTestCounter(t, &mockDocCounts{}, 3)
	ctx := context.Background()

	for _, bad := range []string{"not-a-number", "-2", ""} {
		if err := local.SetItem(ctx, "visitor-1:conversations", bad); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		state, err := counter.Load(ctx, "visitor-1", identity.Guest())
		if err != nil {
			t.Fatalf("value %q: unexpected error: %v", bad, err)
		}
		if state.Count != 0 {
			t.Errorf("value %q: expected fail-soft zero, got %d", bad, state.Count)
		}
	}
}

func TestIncrement_GuestsAreIsolated(t *testing.T) {
	counter, _ := newTestCounter(t, &mockDocCounts{}, 3)
	ctx := context.Background()

	if _, err := counter.Increment(ctx, "visitor-a", identity.Guest()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, _ := counter.Load(ctx, "visitor-b", identity.Guest())
	if state.Count != 0 {
		t.Errorf("expected visitor-b untouched, got count %d", state.Count)
	}
}

// --- Account Tests ---

func TestLoad_AccountReadsDocumentCount(t *testing.T) {
	docs := &mockDocCounts{
		conversationCountFn: func(ctx context.Context, accountID string) (int, error) {
			if accountID != "acct-1" {
				t.Errorf("expected acct-1, got %s", accountID)
			}
			return 7, nil
		},
	}
	counter, _ := newTestCounter(t, docs, 3)

	state, err := counter.Load(context.Background(), "visitor-1", registered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Count != 7 || state.Scope != ScopeAccount {
		t.Errorf("unexpected state: %+v", state)
	}
}

func TestIncrement_AccountUsesRelativeIncrement(t *testing.T) {
	var gotDelta int
	docs := &mockDocCounts{
		conversationCountFn: func(ctx context.Context, accountID string) (int, error) {
			return 4, nil
		},
		incrementConversationsFn: func(ctx context.Context, accountID string, delta int) error {
			gotDelta = delta
			return nil
		},
	}
	counter, _ := newTestCounter(t, docs, 3)

	state, err := counter.Increment(context.Background(), "visitor-1", registered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDelta != 1 {
		t.Errorf("expected delta 1, got %d", gotDelta)
	}
	if state.Count != 5 {
		t.Errorf("expected count 5, got %d", state.Count)
	}
}

func TestIncrement_AccountWriteFailureBanksBackup(t *testing.T) {
	docs := &mockDocCounts{
		conversationCountFn: func(ctx context.Context, accountID string) (int, error) {
			return 4, nil
		},
		incrementConversationsFn: func(ctx context.Context, accountID string, delta int) error {
			return errors.New("document store unreachable")
		},
	}
	counter, local := newTestCounter(t, docs, 3)
	ctx := context.Background()

	// The turn still completes: no error, count advanced in the result.
	state, err := counter.Increment(ctx, "visitor-1", registered)
	if err != nil {
		t.Fatalf("expected the turn to complete despite the write failure, got %v", err)
	}
	if state.Count != 5 {
		t.Errorf("expected count 5, got %d", state.Count)
	}

	val, ok, err := local.GetItem(ctx, "visitor-1:backup_count")
	if err != nil || !ok {
		t.Fatalf("expected a backup count, got ok=%v err=%v", ok, err)
	}
	if val != "1" {
		t.Errorf("expected backup count 1, got %q", val)
	}

	// A second failure bumps it again.
	if _, err := counter.Increment(ctx, "visitor-1", registered); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	val, _, _ = local.GetItem(ctx, "visitor-1:backup_count")
	if val != "2" {
		t.Errorf("expected backup count 2, got %q", val)
	}
}

// --- Migration Tests ---

func TestMigrateGuest_FoldsCountAndClearsLocal(t *testing.T) {
	var gotDelta int
	docs := &mockDocCounts{
		incrementConversationsFn: func(ctx context.Context, accountID string, delta int) error {
			gotDelta = delta
			return nil
		},
	}
	counter, local := newTestCounter(t, docs, 3)
	ctx := context.Background()

	counter.Increment(ctx, "visitor-1", identity.Guest())
	counter.Increment(ctx, "visitor-1", identity.Guest())

	if err := counter.MigrateGuest(ctx, "visitor-1", "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotDelta != 2 {
		t.Errorf("expected guest count 2 migrated, got %d", gotDelta)
	}

	if _, ok, _ := local.GetItem(ctx, "visitor-1:conversations"); ok {
		t.Error("expected the local guest record to be cleared")
	}
}

func TestMigrateGuest_ZeroCountSkipsIncrement(t *testing.T) {
	docs := &mockDocCounts{
		incrementConversationsFn: func(ctx context.Context, accountID string, delta int) error {
			t.Error("expected no increment for a zero guest count")
			return nil
		},
	}
	counter, _ := newTestCounter(t, docs, 3)

	if err := counter.MigrateGuest(context.Background(), "visitor-1", "acct-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMigrateGuest_FailureKeepsLocalRecord(t *testing.T) {
	docs := &mockDocCounts{
		incrementConversationsFn: func(ctx context.Context, accountID string, delta int) error {
			return errors.New("document store unreachable")
		},
	}
	counter, local := newTestCounter(t, docs, 3)
	ctx := context.Background()

	counter.Increment(ctx, "visitor-1", identity.Guest())

	if err := counter.MigrateGuest(ctx, "visitor-1", "acct-1"); err == nil {
		t.Fatal("expected migration failure to surface")
	}

	// The local record survives so a retry can migrate it.
	val, ok, _ := local.GetItem(ctx, "visitor-1:conversations")
	if !ok || val != "1" {
		t.Errorf("expected local record preserved, got ok=%v val=%q", ok, val)
	}
}

func TestGuestCount_FailsSoft(t *testing.T) {
	counter, _ := newTestCounter(t, &mockDocCounts{}, 3)

	count, err := counter.GuestCount(context.Background(), "visitor-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0, got %d", count)
	}
}
