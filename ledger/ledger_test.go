package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"clanktonmint/pricing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

const testAddr = "0x00000000000000000000000000000000000000AB"

func TestGetUnseenAddressReturnsZeroRecord(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	rec, err := store.Get(context.Background(), testAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Flags != (pricing.Flags{}) {
		t.Fatalf("expected all-false flags, got %+v", rec.Flags)
	}
	if rec.Address != "0x00000000000000000000000000000000000000ab" {
		t.Fatalf("expected normalized address, got %q", rec.Address)
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	delta := pricing.Flags{FollowsCreator: true}
	first, err := store.Merge(ctx, testAddr, delta, SourceVerified)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	second, err := store.Merge(ctx, testAddr, delta, SourceVerified)
	if err != nil {
		t.Fatalf("merge again: %v", err)
	}
	if first.Flags != second.Flags {
		t.Fatalf("repeat merge changed state: %+v != %+v", first.Flags, second.Flags)
	}
	if !second.Flags.FollowsCreator {
		t.Fatal("expected followsCreator to be set")
	}
}

func TestMergeIsMonotone(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Merge(ctx, testAddr, pricing.Flags{Casted: true}, SourceAsserted); err != nil {
		t.Fatalf("merge: %v", err)
	}
	// A delta that carries only false values must not clear anything.
	rec, err := store.Merge(ctx, testAddr, pricing.Flags{Tweeted: true}, SourceAsserted)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !rec.Flags.Casted || !rec.Flags.Tweeted {
		t.Fatalf("expected both flags set, got %+v", rec.Flags)
	}
}

func TestMergeOrderDoesNotMatter(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	addrA := "0x1111111111111111111111111111111111111111"
	addrB := "0x2222222222222222222222222222222222222222"
	m1 := pricing.Flags{Casted: true, FollowsArtist: true}
	m2 := pricing.Flags{Tweeted: true, FollowsArtist: true}

	if _, err := store.Merge(ctx, addrA, m1, SourceAsserted); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := store.Merge(ctx, addrA, m2, SourceVerified); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := store.Merge(ctx, addrB, m2, SourceVerified); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := store.Merge(ctx, addrB, m1, SourceAsserted); err != nil {
		t.Fatalf("merge: %v", err)
	}

	recA, err := store.Get(ctx, addrA)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	recB, err := store.Get(ctx, addrB)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if recA.Flags != recB.Flags {
		t.Fatalf("merge order changed final state: %+v != %+v", recA.Flags, recB.Flags)
	}
}

func TestConcurrentMergesAllLand(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	deltas := []pricing.Flags{
		{Casted: true},
		{Recasted: true},
		{Tweeted: true},
		{FollowsCreator: true},
		{FollowsArtist: true},
		{InChannel: true},
	}
	var wg sync.WaitGroup
	for _, delta := range deltas {
		wg.Add(1)
		go func(d pricing.Flags) {
			defer wg.Done()
			if _, err := store.Merge(ctx, testAddr, d, SourceAsserted); err != nil {
				t.Errorf("merge %+v: %v", d, err)
			}
		}(delta)
	}
	wg.Wait()

	rec, err := store.Get(ctx, testAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := pricing.Flags{
		Casted: true, Recasted: true, Tweeted: true,
		FollowsCreator: true, FollowsArtist: true, InChannel: true,
	}
	if rec.Flags != want {
		t.Fatalf("lost a concurrent merge: %+v", rec.Flags)
	}
}

func TestFileDSNQueuesWritersOnLock(t *testing.T) {
	t.Parallel()
	dsn := fileDSN("/var/lib/mintgate/ledger.db")
	if !strings.HasPrefix(dsn, "file:/var/lib/mintgate/ledger.db?") {
		t.Fatalf("unexpected dsn: %s", dsn)
	}
	if !strings.Contains(dsn, "busy_timeout") {
		t.Fatalf("dsn must carry a busy timeout, got %s", dsn)
	}
}

func TestMergeRejectsMalformedAddress(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	if _, err := store.Merge(context.Background(), "not-an-address", pricing.Flags{Casted: true}, SourceAsserted); err == nil {
		t.Fatal("expected error for malformed address")
	}
}

func TestAuditIsSetOnce(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	entry := AuditEntry{Address: testAddr, Action: "cast", Source: SourceAsserted, ObservedAt: time.Unix(1_700_000_000, 0)}
	if err := store.AppendAudit(ctx, entry); err != nil {
		t.Fatalf("append: %v", err)
	}
	entry.ObservedAt = entry.ObservedAt.Add(time.Hour)
	if err := store.AppendAudit(ctx, entry); err != nil {
		t.Fatalf("append retry: %v", err)
	}
	trail, err := store.AuditTrail(ctx, testAddr)
	if err != nil {
		t.Fatalf("trail: %v", err)
	}
	if len(trail) != 1 {
		t.Fatalf("expected single audit entry, got %d", len(trail))
	}
	if !trail[0].ObservedAt.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("retry overwrote first observation: %v", trail[0].ObservedAt)
	}
}

func TestClearResetsFlags(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Merge(ctx, testAddr, pricing.Flags{Casted: true, InChannel: true}, SourceVerified); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := store.Clear(ctx, testAddr); err != nil {
		t.Fatalf("clear: %v", err)
	}
	rec, err := store.Get(ctx, testAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Flags != (pricing.Flags{}) {
		t.Fatalf("expected cleared flags, got %+v", rec.Flags)
	}
}

func TestNotificationTokenUpsert(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.PutNotificationToken(ctx, 42, "token-1", testAddr); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Re-registration without an address keeps the stored one.
	if err := store.PutNotificationToken(ctx, 42, "token-2", ""); err != nil {
		t.Fatalf("put again: %v", err)
	}
	rec, found, err := store.GetNotificationToken(ctx, 42)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("expected token to exist")
	}
	if rec.Token != "token-2" {
		t.Fatalf("expected replaced token, got %q", rec.Token)
	}
	if rec.Address != "0x00000000000000000000000000000000000000ab" {
		t.Fatalf("expected retained address, got %q", rec.Address)
	}
}
