package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultNeynarBaseURL = "https://api.neynar.com"
	defaultNeynarTimeout = 5 * time.Second
	maxOracleBody        = 1 << 20
)

// NeynarConfig configures the Neynar-backed oracle.
type NeynarConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NeynarClient implements Oracle against the Neynar v2 API.
type NeynarClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewNeynarClient builds the oracle client.
func NewNeynarClient(cfg NeynarConfig) (*NeynarClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("neynar: api key required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultNeynarBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNeynarTimeout
	}
	return &NeynarClient{
		baseURL:    base,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *NeynarClient) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("neynar: build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("neynar: %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOracleBody))
	if err != nil {
		return nil, fmt.Errorf("neynar: read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("neynar: %s returned %d", path, resp.StatusCode)
	}
	return body, nil
}

// bulkUser is the subset of the bulk-user payload the gateway cares about.
// Pro status has appeared both as a nested subscription object and as the
// power badge boolean depending on API version.
type bulkUser struct {
	FID           int64  `json:"fid"`
	Username      string `json:"username"`
	PowerBadge    bool   `json:"power_badge"`
	ViewerContext *struct {
		Following bool `json:"following"`
	} `json:"viewer_context"`
	Pro *struct {
		Status string `json:"status"`
	} `json:"pro"`
}

type bulkUserResponse struct {
	Users []bulkUser `json:"users"`
	// Older deployments wrapped the list under result.
	Result *struct {
		Users []bulkUser `json:"users"`
	} `json:"result"`
}

func (r bulkUserResponse) users() []bulkUser {
	if len(r.Users) > 0 {
		return r.Users
	}
	if r.Result != nil {
		return r.Result.Users
	}
	return nil
}

func (c *NeynarClient) lookupUser(ctx context.Context, viewerFID, subjectFID int64) (bulkUser, error) {
	params := url.Values{}
	params.Set("fids", strconv.FormatInt(subjectFID, 10))
	params.Set("viewer_fid", strconv.FormatInt(viewerFID, 10))
	body, err := c.get(ctx, "/v2/farcaster/user/bulk", params)
	if err != nil {
		return bulkUser{}, err
	}
	var decoded bulkUserResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return bulkUser{}, fmt.Errorf("neynar: decode bulk user: %w", err)
	}
	for _, u := range decoded.users() {
		if u.FID == subjectFID {
			return u, nil
		}
	}
	return bulkUser{}, fmt.Errorf("neynar: fid %d missing from bulk response", subjectFID)
}

// FollowsUser reports whether viewer follows target.
func (c *NeynarClient) FollowsUser(ctx context.Context, viewerFID, targetFID int64) (bool, error) {
	user, err := c.lookupUser(ctx, viewerFID, targetFID)
	if err != nil {
		return false, err
	}
	return user.ViewerContext != nil && user.ViewerContext.Following, nil
}

// channelMembershipResponse tolerates every shape the channel endpoint has
// shipped: a top-level is_following, the same nested under result, a channel
// object with a following flag, or a plain channel listing.
type channelMembershipResponse struct {
	IsFollowing *bool `json:"is_following"`
	Result      *struct {
		IsFollowing *bool `json:"is_following"`
		Channel     *struct {
			Following bool `json:"following"`
		} `json:"channel"`
	} `json:"result"`
	Channels []struct {
		ID string `json:"id"`
	} `json:"channels"`
}

func (r channelMembershipResponse) member(channelID string) bool {
	if r.IsFollowing != nil {
		return *r.IsFollowing
	}
	if r.Result != nil {
		if r.Result.IsFollowing != nil {
			return *r.Result.IsFollowing
		}
		if r.Result.Channel != nil {
			return r.Result.Channel.Following
		}
	}
	for _, ch := range r.Channels {
		if ch.ID == channelID {
			return true
		}
	}
	return false
}

// ChannelMember reports whether viewer belongs to the channel.
func (c *NeynarClient) ChannelMember(ctx context.Context, viewerFID int64, channelID string) (bool, error) {
	params := url.Values{}
	params.Set("fid", strconv.FormatInt(viewerFID, 10))
	params.Set("channel_id", channelID)
	body, err := c.get(ctx, "/v2/farcaster/channel/user", params)
	if err != nil {
		return false, err
	}
	var decoded channelMembershipResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return false, fmt.Errorf("neynar: decode channel membership: %w", err)
	}
	return decoded.member(channelID), nil
}

// UserProfile fetches the viewer's own profile.
func (c *NeynarClient) UserProfile(ctx context.Context, viewerFID int64) (Profile, error) {
	user, err := c.lookupUser(ctx, viewerFID, viewerFID)
	if err != nil {
		return Profile{}, err
	}
	pro := user.PowerBadge
	if user.Pro != nil && strings.EqualFold(user.Pro.Status, "subscribed") {
		pro = true
	}
	return Profile{FID: user.FID, Username: user.Username, Pro: pro}, nil
}
