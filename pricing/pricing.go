package pricing

// Flags captures every discount category earned by one wallet. Absent flags are
// false and contribute nothing.
type Flags struct {
	Casted         bool `json:"casted"`
	Recasted       bool `json:"recasted"`
	Tweeted        bool `json:"tweeted"`
	FollowsCreator bool `json:"followsCreator"`
	FollowsArtist  bool `json:"followsArtist"`
	InChannel      bool `json:"inChannel"`
	FarcasterPro   bool `json:"farcasterPro"`
	EarlyFID       bool `json:"earlyFid"`
}

// Table holds the base price and per-flag discount amounts, denominated in
// whole tokens. It is the single source of truth for pricing; components that
// need a price receive a Table instead of re-declaring constants.
type Table struct {
	Base     uint64 `yaml:"base"`
	Cast     uint64 `yaml:"cast"`
	Recast   uint64 `yaml:"recast"`
	Tweet    uint64 `yaml:"tweet"`
	Follow   uint64 `yaml:"follow"`
	Pro      uint64 `yaml:"pro"`
	EarlyFID uint64 `yaml:"early_fid"`
}

// DefaultTable mirrors the launch pricing for the Clankton mint.
func DefaultTable() Table {
	return Table{
		Base:     20_000_000,
		Cast:     2_000_000,
		Recast:   4_000_000,
		Tweet:    1_000_000,
		Follow:   500_000,
		Pro:      500_000,
		EarlyFID: 500_000,
	}
}

// Quote is the derived price for a flag set. It is computed on demand and never
// stored.
type Quote struct {
	BasePrice  uint64 `json:"basePrice"`
	Discount   uint64 `json:"discount"`
	FinalPrice uint64 `json:"finalPrice"`
}

// Discount sums the discount earned by every set flag.
func (t Table) Discount(flags Flags) uint64 {
	var d uint64
	if flags.Casted {
		d += t.Cast
	}
	if flags.Recasted {
		d += t.Recast
	}
	if flags.Tweeted {
		d += t.Tweet
	}
	if flags.FollowsCreator {
		d += t.Follow
	}
	if flags.FollowsArtist {
		d += t.Follow
	}
	if flags.InChannel {
		d += t.Follow
	}
	if flags.FarcasterPro {
		d += t.Pro
	}
	if flags.EarlyFID {
		d += t.EarlyFID
	}
	return d
}

// Quote computes the final price for a flag set, clamped at zero.
func (t Table) Quote(flags Flags) Quote {
	discount := t.Discount(flags)
	final := uint64(0)
	if discount < t.Base {
		final = t.Base - discount
	}
	return Quote{BasePrice: t.Base, Discount: discount, FinalPrice: final}
}

// Union returns the OR-merge of two flag sets. OR is commutative, associative,
// and idempotent, so merges applied in any order converge on the same state.
func Union(a, b Flags) Flags {
	return Flags{
		Casted:         a.Casted || b.Casted,
		Recasted:       a.Recasted || b.Recasted,
		Tweeted:        a.Tweeted || b.Tweeted,
		FollowsCreator: a.FollowsCreator || b.FollowsCreator,
		FollowsArtist:  a.FollowsArtist || b.FollowsArtist,
		InChannel:      a.InChannel || b.InChannel,
		FarcasterPro:   a.FarcasterPro || b.FarcasterPro,
		EarlyFID:       a.EarlyFID || b.EarlyFID,
	}
}
