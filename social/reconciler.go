package social

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"clanktonmint/ledger"
	"clanktonmint/pricing"
)

// Targets names the accounts and channel whose relationships unlock discounts,
// plus the fid ceiling for the early-adopter discount.
type Targets struct {
	CreatorFID  int64  `yaml:"creator_fid"`
	ArtistFID   int64  `yaml:"artist_fid"`
	ChannelID   string `yaml:"channel_id"`
	EarlyFIDMax int64  `yaml:"early_fid_max"`
}

// VerifiedFlags is the outcome of one reconciliation round. A nil field means
// the corresponding target could not be verified this round; it is omitted
// rather than asserted false so a transient oracle failure never demotes a
// wallet.
type VerifiedFlags struct {
	FollowsCreator *bool `json:"followsCreator,omitempty"`
	FollowsArtist  *bool `json:"followsArtist,omitempty"`
	InChannel      *bool `json:"inChannel,omitempty"`
	FarcasterPro   *bool `json:"farcasterPro,omitempty"`
	EarlyFID       *bool `json:"earlyFid,omitempty"`
}

func (v VerifiedFlags) delta() pricing.Flags {
	isTrue := func(b *bool) bool { return b != nil && *b }
	return pricing.Flags{
		FollowsCreator: isTrue(v.FollowsCreator),
		FollowsArtist:  isTrue(v.FollowsArtist),
		InChannel:      isTrue(v.InChannel),
		FarcasterPro:   isTrue(v.FarcasterPro),
		EarlyFID:       isTrue(v.EarlyFID),
	}
}

// ErrInvalidFID is returned for non-positive viewer identities.
var ErrInvalidFID = errors.New("invalid fid")

// Ledger is the subset of the discount store the reconciler needs.
type Ledger interface {
	Merge(ctx context.Context, address string, delta pricing.Flags, source ledger.Source) (ledger.Record, error)
	AppendAudit(ctx context.Context, entry ledger.AuditEntry) error
}

// Reconciler checks a wallet's linked Farcaster identity against the tracked
// targets and merges confirmed relationships into the ledger.
type Reconciler struct {
	oracle       Oracle
	ledger       Ledger
	targets      Targets
	queryTimeout time.Duration
	logger       *slog.Logger
}

// NewReconciler wires a reconciler. queryTimeout bounds each individual oracle
// call so one slow target cannot stall the rest of the round.
func NewReconciler(oracle Oracle, store Ledger, targets Targets, queryTimeout time.Duration, logger *slog.Logger) *Reconciler {
	if queryTimeout <= 0 {
		queryTimeout = defaultNeynarTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		oracle:       oracle,
		ledger:       store,
		targets:      targets,
		queryTimeout: queryTimeout,
		logger:       logger,
	}
}

// Reconcile verifies fid's relationship to every tracked target and OR-merges
// the confirmed subset into the wallet's ledger record. Target checks run
// concurrently; a failed check leaves its flag untouched and never fails the
// round. Safe to call on every page load.
func (r *Reconciler) Reconcile(ctx context.Context, address string, fid int64) (ledger.Record, VerifiedFlags, error) {
	if fid <= 0 {
		return ledger.Record{}, VerifiedFlags{}, fmt.Errorf("%w: %d", ErrInvalidFID, fid)
	}
	normalized, err := ledger.NormalizeAddress(address)
	if err != nil {
		return ledger.Record{}, VerifiedFlags{}, err
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		verified VerifiedFlags
	)
	record := func(target string, assign func(*VerifiedFlags, *bool), value bool, err error) {
		if err != nil {
			r.logger.Warn("follow verification failed this round",
				"fid", fid, "target", target, "err", err)
			return
		}
		mu.Lock()
		assign(&verified, &value)
		mu.Unlock()
	}
	run := func(target string, assign func(*VerifiedFlags, *bool), query func(context.Context) (bool, error)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
			defer cancel()
			ok, err := query(callCtx)
			record(target, assign, ok, err)
		}()
	}

	if fid == r.targets.CreatorFID {
		// Being the tracked account satisfies the follow by definition.
		yes := true
		verified.FollowsCreator = &yes
	} else {
		run("creator", func(v *VerifiedFlags, b *bool) { v.FollowsCreator = b }, func(ctx context.Context) (bool, error) {
			return r.oracle.FollowsUser(ctx, fid, r.targets.CreatorFID)
		})
	}
	if fid == r.targets.ArtistFID {
		yes := true
		verified.FollowsArtist = &yes
	} else {
		run("artist", func(v *VerifiedFlags, b *bool) { v.FollowsArtist = b }, func(ctx context.Context) (bool, error) {
			return r.oracle.FollowsUser(ctx, fid, r.targets.ArtistFID)
		})
	}
	run("channel", func(v *VerifiedFlags, b *bool) { v.InChannel = b }, func(ctx context.Context) (bool, error) {
		return r.oracle.ChannelMember(ctx, fid, r.targets.ChannelID)
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		callCtx, cancel := context.WithTimeout(ctx, r.queryTimeout)
		defer cancel()
		profile, err := r.oracle.UserProfile(callCtx, fid)
		if err != nil {
			r.logger.Warn("profile verification failed this round", "fid", fid, "err", err)
			return
		}
		mu.Lock()
		pro := profile.Pro
		verified.FarcasterPro = &pro
		if r.targets.EarlyFIDMax > 0 {
			early := fid <= r.targets.EarlyFIDMax
			verified.EarlyFID = &early
		}
		mu.Unlock()
	}()
	wg.Wait()

	delta := verified.delta()
	rec, err := r.ledger.Merge(ctx, normalized, delta, ledger.SourceVerified)
	if err != nil {
		return ledger.Record{}, VerifiedFlags{}, err
	}
	r.auditVerified(ctx, normalized, delta)
	return rec, verified, nil
}

// auditVerified mirrors confirmed relationships into the set-once action log.
func (r *Reconciler) auditVerified(ctx context.Context, address string, delta pricing.Flags) {
	actions := map[string]bool{
		"follow_creator": delta.FollowsCreator,
		"follow_artist":  delta.FollowsArtist,
		"join_channel":   delta.InChannel,
		"farcaster_pro":  delta.FarcasterPro,
		"early_fid":      delta.EarlyFID,
	}
	for action, ok := range actions {
		if !ok {
			continue
		}
		entry := ledger.AuditEntry{Address: address, Action: action, Source: ledger.SourceVerified}
		if err := r.ledger.AppendAudit(ctx, entry); err != nil {
			r.logger.Warn("audit append failed", "address", address, "action", action, "err", err)
		}
	}
}
