package aggregator

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/memory"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/provider"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

type fakeProvider struct {
	platform streamers.Platform
	items    []streamers.Streamer
	err      error
	calls    atomic.Int32
}

func (f *fakeProvider) Platform() streamers.Platform { return f.platform }

func (f *fakeProvider) FetchFollowing(context.Context, string) ([]streamers.Streamer, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}

	return slices.Clone(f.items), nil
}

func newTestService(providers ...provider.Provider) (*Service, *memory.Store) {
	store := memory.NewStore()
	svc := New(Config{CacheTTL: 5 * time.Minute}, providers, store, store, store, NewSyncLimiter(30*time.Second))

	return svc, store
}

func connect(t *testing.T, store *memory.Store, platform streamers.Platform) {
	t.Helper()
	require.NoError(t, store.UpsertToken(context.Background(), streamers.Token{
		UserID:      "user-1",
		Provider:    platform,
		AccessToken: "tok-" + string(platform),
	}))
}

func TestListFollowing_MergedOrdering(t *testing.T) {
	ctx := context.Background()
	tw := &fakeProvider{platform: streamers.PlatformTwitch, items: []streamers.Streamer{
		{StreamerID: "t2", Name: "Zed"},
		{StreamerID: "t1", Name: "Anna"},
	}}
	kk := &fakeProvider{platform: streamers.PlatformKick, items: []streamers.Streamer{
		{StreamerID: "k1", Name: "Yara"},
	}}

	svc, store := newTestService(tw, kk)
	connect(t, store, streamers.PlatformTwitch)
	connect(t, store, streamers.PlatformKick)

	got, err := svc.ListFollowing(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Kick sorts before twitch, names break ties within a platform.
	assert.Equal(t, streamers.PlatformKick, got[0].Provider)
	assert.Equal(t, "Yara", got[0].Name)
	assert.Equal(t, "Anna", got[1].Name)
	assert.Equal(t, "Zed", got[2].Name)

	// Fetched rows come back stamped with ownership.
	assert.Equal(t, "user-1", got[0].UserID)
	assert.False(t, got[0].UpdatedAt.IsZero())
}

func TestListFollowing_FreshnessBoundary(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{platform: streamers.PlatformTwitch, items: []streamers.Streamer{
		{StreamerID: "t1", Name: "Fetched"},
	}}

	svc, store := newTestService(p)
	connect(t, store, streamers.PlatformTwitch)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	require.NoError(t, store.ReplaceFollowing(ctx, "user-1", streamers.PlatformTwitch, []streamers.Streamer{
		{UserID: "user-1", Provider: streamers.PlatformTwitch, StreamerID: "c1", Name: "Cached"},
	}))

	// A sync exactly one TTL old still counts as fresh.
	require.NoError(t, store.RecordSyncSuccess(ctx, "user-1", streamers.PlatformTwitch, base.Add(-5*time.Minute)))
	got, err := svc.ListFollowing(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Cached", got[0].Name)
	assert.Equal(t, int32(0), p.calls.Load())

	// One second past the TTL triggers a refetch.
	require.NoError(t, store.RecordSyncSuccess(ctx, "user-1", streamers.PlatformTwitch, base.Add(-5*time.Minute-time.Second)))
	got, err = svc.ListFollowing(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Fetched", got[0].Name)
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestListFollowing_FallbackToCacheOnFailure(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{
		platform: streamers.PlatformTwitch,
		err:      fmt.Errorf("%w: helix is down", provider.ErrUnavailable),
	}

	svc, store := newTestService(p)
	connect(t, store, streamers.PlatformTwitch)

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	staleAt := base.Add(-10 * time.Minute)
	require.NoError(t, store.ReplaceFollowing(ctx, "user-1", streamers.PlatformTwitch, []streamers.Streamer{
		{UserID: "user-1", Provider: streamers.PlatformTwitch, StreamerID: "c1", Name: "Old"},
	}))
	require.NoError(t, store.RecordSyncSuccess(ctx, "user-1", streamers.PlatformTwitch, staleAt))

	got, err := svc.ListFollowing(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Old", got[0].Name)
	assert.Equal(t, int32(1), p.calls.Load())

	// The failure is recorded but the last successful sync time stays put.
	state, err := store.SyncState(ctx, "user-1", streamers.PlatformTwitch)
	require.NoError(t, err)
	require.NotNil(t, state.LastError)
	assert.Contains(t, *state.LastError, "helix is down")
	require.NotNil(t, state.LastSyncedAt)
	assert.True(t, state.LastSyncedAt.Equal(staleAt))
}

func TestListFollowing_NotConnectedSkipped(t *testing.T) {
	ctx := context.Background()
	tw := &fakeProvider{platform: streamers.PlatformTwitch, items: []streamers.Streamer{
		{StreamerID: "t1", Name: "Anna"},
	}}
	kk := &fakeProvider{platform: streamers.PlatformKick}

	svc, store := newTestService(tw, kk)
	connect(t, store, streamers.PlatformTwitch)

	got, err := svc.ListFollowing(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int32(0), kk.calls.Load())
}

func TestSyncAll_Throttled(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{platform: streamers.PlatformTwitch, items: []streamers.Streamer{
		{StreamerID: "t1", Name: "Anna"},
	}}

	svc, store := newTestService(p)
	connect(t, store, streamers.PlatformTwitch)

	cur := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return cur }

	_, err := svc.SyncAll(ctx, "user-1")
	require.NoError(t, err)

	_, err = svc.SyncAll(ctx, "user-1")
	assert.ErrorIs(t, err, ErrTooManyRequests)

	// A gap of exactly the throttle interval is allowed again.
	cur = cur.Add(30 * time.Second)
	_, err = svc.SyncAll(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestSyncAll_ProviderIsolation(t *testing.T) {
	ctx := context.Background()
	tw := &fakeProvider{
		platform: streamers.PlatformTwitch,
		err:      fmt.Errorf("%w: helix is down", provider.ErrUnavailable),
	}
	kk := &fakeProvider{platform: streamers.PlatformKick, items: []streamers.Streamer{
		{StreamerID: "k1", Name: "Yara"},
		{StreamerID: "k2", Name: "Zoe"},
	}}

	svc, store := newTestService(tw, kk)
	connect(t, store, streamers.PlatformTwitch)
	connect(t, store, streamers.PlatformKick)

	summary, err := svc.SyncAll(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, summary.OK)
	assert.Equal(t, 300, summary.CachedTTLSeconds)

	twRes := summary.Results[streamers.PlatformTwitch]
	assert.False(t, twRes.OK)
	assert.Contains(t, twRes.Error, "helix is down")

	kkRes := summary.Results[streamers.PlatformKick]
	assert.True(t, kkRes.OK)
	require.NotNil(t, kkRes.Count)
	assert.Equal(t, 2, *kkRes.Count)

	// The healthy provider's cache was replaced despite the other failing.
	cached, err := store.CachedFollowing(ctx, "user-1", streamers.PlatformKick)
	require.NoError(t, err)
	assert.Len(t, cached, 2)
}

func TestSyncAll_NotConnectedSkipped(t *testing.T) {
	ctx := context.Background()
	tw := &fakeProvider{platform: streamers.PlatformTwitch, items: []streamers.Streamer{
		{StreamerID: "t1", Name: "Anna"},
	}}
	kk := &fakeProvider{platform: streamers.PlatformKick}

	svc, store := newTestService(tw, kk)
	connect(t, store, streamers.PlatformTwitch)

	summary, err := svc.SyncAll(ctx, "user-1")
	require.NoError(t, err)

	kkRes := summary.Results[streamers.PlatformKick]
	assert.True(t, kkRes.Skipped)
	assert.Equal(t, "not_connected", kkRes.Reason)
	assert.Equal(t, int32(0), kk.calls.Load())
}
