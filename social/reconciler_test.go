package social

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"clanktonmint/ledger"
	"clanktonmint/pricing"
)

type stubOracle struct {
	follows      map[int64]bool
	followErr    map[int64]error
	channel      bool
	channelErr   error
	profile      Profile
	profileErr   error
	followCalls  atomic.Int64
	channelCalls atomic.Int64
}

func (s *stubOracle) FollowsUser(_ context.Context, _, targetFID int64) (bool, error) {
	s.followCalls.Add(1)
	if err := s.followErr[targetFID]; err != nil {
		return false, err
	}
	return s.follows[targetFID], nil
}

func (s *stubOracle) ChannelMember(context.Context, int64, string) (bool, error) {
	s.channelCalls.Add(1)
	if s.channelErr != nil {
		return false, s.channelErr
	}
	return s.channel, nil
}

func (s *stubOracle) UserProfile(_ context.Context, fid int64) (Profile, error) {
	if s.profileErr != nil {
		return Profile{}, s.profileErr
	}
	profile := s.profile
	profile.FID = fid
	return profile, nil
}

const (
	creatorFID = int64(249958)
	artistFID  = int64(6500)
	testAddr   = "0x00000000000000000000000000000000000000EF"
)

func testTargets() Targets {
	return Targets{CreatorFID: creatorFID, ArtistFID: artistFID, ChannelID: "clankton", EarlyFIDMax: 100_000}
}

func newTestReconciler(t *testing.T, oracle Oracle) (*Reconciler, *ledger.Store) {
	t.Helper()
	store, err := ledger.NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewReconciler(oracle, store, testTargets(), 0, nil), store
}

func TestReconcileMergesVerifiedFollows(t *testing.T) {
	t.Parallel()
	oracle := &stubOracle{
		follows: map[int64]bool{creatorFID: true, artistFID: false},
		channel: true,
		profile: Profile{Pro: true},
	}
	rec, _ := newTestReconciler(t, oracle)
	record, verified, err := rec.Reconcile(context.Background(), testAddr, 500_000)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !record.Flags.FollowsCreator || record.Flags.FollowsArtist {
		t.Fatalf("unexpected follow flags: %+v", record.Flags)
	}
	if !record.Flags.InChannel || !record.Flags.FarcasterPro {
		t.Fatalf("expected channel and pro flags: %+v", record.Flags)
	}
	if record.Flags.EarlyFID {
		t.Fatal("fid above ceiling must not earn early discount")
	}
	if verified.FollowsArtist == nil || *verified.FollowsArtist {
		t.Fatalf("expected artist verified false, got %+v", verified.FollowsArtist)
	}
}

func TestReconcilePartialOracleFailure(t *testing.T) {
	t.Parallel()
	oracle := &stubOracle{
		follows:   map[int64]bool{artistFID: true},
		followErr: map[int64]error{creatorFID: errors.New("timeout")},
		channel:   false,
	}
	rec, store := newTestReconciler(t, oracle)
	ctx := context.Background()

	// The creator follow was verified in an earlier round.
	if _, err := store.Merge(ctx, testAddr, pricing.Flags{FollowsCreator: true}, ledger.SourceVerified); err != nil {
		t.Fatalf("seed merge: %v", err)
	}

	record, verified, err := rec.Reconcile(ctx, testAddr, 12345)
	if err != nil {
		t.Fatalf("partial failure must not fail the round: %v", err)
	}
	if verified.FollowsCreator != nil {
		t.Fatal("failed target must be reported as unverified, not false")
	}
	if !record.Flags.FollowsCreator {
		t.Fatal("oracle failure must not clear a previously verified flag")
	}
	if !record.Flags.FollowsArtist {
		t.Fatal("successful target must still merge")
	}
}

func TestReconcileSelfFollowDegeneracy(t *testing.T) {
	t.Parallel()
	oracle := &stubOracle{follows: map[int64]bool{}}
	rec, _ := newTestReconciler(t, oracle)
	record, verified, err := rec.Reconcile(context.Background(), testAddr, artistFID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !record.Flags.FollowsArtist {
		t.Fatal("the artist trivially follows themselves")
	}
	if verified.FollowsArtist == nil || !*verified.FollowsArtist {
		t.Fatalf("expected artist follow verified true, got %+v", verified.FollowsArtist)
	}
	// Exactly one follow query: the creator. The artist check is satisfied
	// by identity.
	if got := oracle.followCalls.Load(); got != 1 {
		t.Fatalf("expected 1 follow query, got %d", got)
	}
}

func TestReconcileEarlyFID(t *testing.T) {
	t.Parallel()
	oracle := &stubOracle{follows: map[int64]bool{}}
	rec, _ := newTestReconciler(t, oracle)
	record, verified, err := rec.Reconcile(context.Background(), testAddr, 777)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !record.Flags.EarlyFID {
		t.Fatal("fid below ceiling earns the early discount")
	}
	if verified.EarlyFID == nil || !*verified.EarlyFID {
		t.Fatalf("expected early fid verified true, got %+v", verified.EarlyFID)
	}
}

func TestReconcileNoDoubleCounting(t *testing.T) {
	t.Parallel()
	oracle := &stubOracle{follows: map[int64]bool{creatorFID: true}}
	rec, store := newTestReconciler(t, oracle)
	ctx := context.Background()
	table := pricing.DefaultTable()

	// Flag already asserted by the client; the oracle then confirms it.
	if _, err := store.Merge(ctx, testAddr, pricing.Flags{FollowsCreator: true}, ledger.SourceAsserted); err != nil {
		t.Fatalf("seed merge: %v", err)
	}
	before, err := store.Get(ctx, testAddr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	record, _, err := rec.Reconcile(ctx, testAddr, 424242)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if table.Quote(record.Flags).FinalPrice != table.Quote(before.Flags).FinalPrice {
		t.Fatal("confirming an asserted flag must not change the price")
	}
	if !record.Flags.FollowsCreator {
		t.Fatal("flag must remain set")
	}
}

func TestReconcileRejectsBadInput(t *testing.T) {
	t.Parallel()
	rec, _ := newTestReconciler(t, &stubOracle{})
	if _, _, err := rec.Reconcile(context.Background(), testAddr, 0); !errors.Is(err, ErrInvalidFID) {
		t.Fatalf("expected ErrInvalidFID, got %v", err)
	}
	if _, _, err := rec.Reconcile(context.Background(), "clankton", 42); !errors.Is(err, ledger.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}
