// Package social verifies follow-graph claims against Farcaster. The oracle is
// advisory: it may time out, return partial data, or change response shape
// between provider versions, and callers degrade to "not verified this round"
// rather than failing.
package social

import "context"

// Profile is the strict internal view of a Farcaster user. Raw provider JSON
// never leaves this package.
type Profile struct {
	FID      int64
	Username string
	Pro      bool
}

// Oracle answers relationship queries about a viewer identity.
type Oracle interface {
	// FollowsUser reports whether viewer follows target.
	FollowsUser(ctx context.Context, viewerFID, targetFID int64) (bool, error)
	// ChannelMember reports whether viewer belongs to the channel.
	ChannelMember(ctx context.Context, viewerFID int64, channelID string) (bool, error)
	// UserProfile fetches the viewer's profile.
	UserProfile(ctx context.Context, viewerFID int64) (Profile, error)
}
