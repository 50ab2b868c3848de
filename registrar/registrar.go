// Package registrar records client-asserted discount actions. It sits on the
// client side of the trust boundary: an asserted action is self-report, not
// proof, and high-value verifiable claims are deferred to the follow
// reconciler.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clanktonmint/ledger"
	"clanktonmint/pricing"
)

// Action is one of the fixed set of discount-qualifying actions a client may
// report.
type Action string

const (
	ActionCast          Action = "cast"
	ActionRecast        Action = "recast"
	ActionTweet         Action = "tweet"
	ActionFollowCreator Action = "follow_creator"
	ActionFollowArtist  Action = "follow_artist"
	ActionJoinChannel   Action = "join_channel"
)

// ErrInvalidAction is returned for action kinds outside the fixed set.
var ErrInvalidAction = errors.New("invalid action kind")

// Ledger is the subset of the discount store the registrar needs.
type Ledger interface {
	Get(ctx context.Context, address string) (ledger.Record, error)
	Merge(ctx context.Context, address string, delta pricing.Flags, source ledger.Source) (ledger.Record, error)
	AppendAudit(ctx context.Context, entry ledger.AuditEntry) error
}

// Registrar maps asserted actions onto ledger flags.
type Registrar struct {
	ledger Ledger
	table  pricing.Table
	// ceiling caps the discount a verifiable self-report may claim on its
	// own. Claims above it are audited but only become flags once the
	// reconciler confirms them against the follow graph.
	ceiling uint64
	logger  *slog.Logger
}

// New constructs a registrar. A zero ceiling accepts every self-report, which
// matches launch behavior; operators can lower trust without a deploy by
// setting it in config.
func New(store Ledger, table pricing.Table, selfReportCeiling uint64, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	if selfReportCeiling == 0 {
		selfReportCeiling = table.Base
	}
	return &Registrar{ledger: store, table: table, ceiling: selfReportCeiling, logger: logger}
}

type actionRule struct {
	delta      pricing.Flags
	verifiable bool
}

func (r *Registrar) rule(action Action) (actionRule, uint64, error) {
	switch action {
	case ActionCast:
		return actionRule{delta: pricing.Flags{Casted: true}}, r.table.Cast, nil
	case ActionRecast:
		return actionRule{delta: pricing.Flags{Recasted: true}}, r.table.Recast, nil
	case ActionTweet:
		return actionRule{delta: pricing.Flags{Tweeted: true}}, r.table.Tweet, nil
	case ActionFollowCreator:
		return actionRule{delta: pricing.Flags{FollowsCreator: true}, verifiable: true}, r.table.Follow, nil
	case ActionFollowArtist:
		return actionRule{delta: pricing.Flags{FollowsArtist: true}, verifiable: true}, r.table.Follow, nil
	case ActionJoinChannel:
		return actionRule{delta: pricing.Flags{InChannel: true}, verifiable: true}, r.table.Follow, nil
	default:
		return actionRule{}, 0, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
}

// Register records a self-reported action for the wallet and returns the
// resulting ledger record. Registration is idempotent: repeating an action is a
// no-op for both the flags and the audit log.
func (r *Registrar) Register(ctx context.Context, address string, action Action) (ledger.Record, error) {
	rule, discount, err := r.rule(action)
	if err != nil {
		return ledger.Record{}, err
	}
	normalized, err := ledger.NormalizeAddress(address)
	if err != nil {
		return ledger.Record{}, err
	}

	entry := ledger.AuditEntry{Address: normalized, Action: string(action), Source: ledger.SourceAsserted}
	if err := r.ledger.AppendAudit(ctx, entry); err != nil {
		// The audit trail is analytics, not pricing truth.
		r.logger.Warn("audit append failed", "address", normalized, "action", action, "err", err)
	}

	if rule.verifiable && discount > r.ceiling {
		// Claim exceeds what self-report may grant. The reconciler will
		// set the flag once the follow graph confirms it; until then the
		// ledger stays untouched.
		r.logger.Info("self-report deferred to verification",
			"address", normalized, "action", action, "discount", discount)
		return r.ledger.Get(ctx, normalized)
	}

	return r.ledger.Merge(ctx, normalized, rule.delta, ledger.SourceAsserted)
}
