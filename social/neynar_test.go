package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelMembershipNormalization(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"top level is_following", `{"is_following": true}`, true},
		{"nested under result", `{"result": {"is_following": true}}`, true},
		{"channel object", `{"result": {"channel": {"following": true}}}`, true},
		{"channel listing hit", `{"channels": [{"id": "clankton"}]}`, true},
		{"channel listing miss", `{"channels": [{"id": "degen"}]}`, false},
		{"explicit false wins over listing", `{"is_following": false, "channels": [{"id": "clankton"}]}`, false},
		{"empty body", `{}`, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var decoded channelMembershipResponse
			require.NoError(t, json.Unmarshal([]byte(tc.body), &decoded))
			require.Equal(t, tc.want, decoded.member("clankton"))
		})
	}
}

func TestNeynarFollowsUser(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/farcaster/user/bulk", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, "6500", r.URL.Query().Get("fids"))
		require.Equal(t, "42", r.URL.Query().Get("viewer_fid"))
		_, _ = w.Write([]byte(`{"users": [{"fid": 6500, "viewer_context": {"following": true}}]}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewNeynarClient(NeynarConfig{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	following, err := client.FollowsUser(context.Background(), 42, 6500)
	require.NoError(t, err)
	require.True(t, following)
}

func TestNeynarFollowsUserLegacyWrapper(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result": {"users": [{"fid": 6500, "viewer_context": {"following": false}}]}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewNeynarClient(NeynarConfig{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	following, err := client.FollowsUser(context.Background(), 42, 6500)
	require.NoError(t, err)
	require.False(t, following)
}

func TestNeynarErrorStatusSurfaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	client, err := NewNeynarClient(NeynarConfig{BaseURL: srv.URL, APIKey: "test-key"})
	require.NoError(t, err)
	_, err = client.ChannelMember(context.Background(), 42, "clankton")
	require.Error(t, err)
}

func TestNeynarUserProfileProShapes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"pro subscription object", `{"users": [{"fid": 42, "username": "gm", "pro": {"status": "subscribed"}}]}`, true},
		{"power badge fallback", `{"users": [{"fid": 42, "username": "gm", "power_badge": true}]}`, true},
		{"neither", `{"users": [{"fid": 42, "username": "gm"}]}`, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)
			client, err := NewNeynarClient(NeynarConfig{BaseURL: srv.URL, APIKey: "k"})
			require.NoError(t, err)
			profile, err := client.UserProfile(context.Background(), 42)
			require.NoError(t, err)
			require.Equal(t, tc.want, profile.Pro)
		})
	}
}

func TestNeynarRequiresAPIKey(t *testing.T) {
	t.Parallel()
	_, err := NewNeynarClient(NeynarConfig{})
	require.Error(t, err)
}
