// Package aggregator decides, per request and per provider, whether a
// user's follow list is served from cache or refetched, and merges the
// per-provider lists into one view.
package aggregator

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/provider"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

// ErrTooManyRequests is returned by SyncAll when the user is inside
// the manual-sync throttle window. It's the only error that aborts a
// whole sync call.
var ErrTooManyRequests = errors.New("too many sync requests")

// Kept short so a sync summary stays readable; the stores keep a
// longer copy.
const maxSummaryErrLen = 200

type (
	Config struct {
		// CacheTTL is how old a successful sync may be before a
		// passive read refetches. Defaults to 5 minutes.
		CacheTTL time.Duration
	}

	// Service orchestrates provider fetches against the cache and
	// sync-state stores. Provider failures never escape it: they're
	// recorded and the cached snapshot is served instead.
	Service struct {
		providers []provider.Provider
		following streamers.FollowingRepo
		states    streamers.SyncStateRepo
		tokens    streamers.TokenRepo
		limiter   *SyncLimiter

		ttl time.Duration
		now func() time.Time
	}
)

func New(cfg Config, providers []provider.Provider, following streamers.FollowingRepo, states streamers.SyncStateRepo, tokens streamers.TokenRepo, limiter *SyncLimiter) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	return &Service{
		providers: providers,
		following: following,
		states:    states,
		tokens:    tokens,
		limiter:   limiter,
		ttl:       cfg.CacheTTL,
		now:       time.Now,
	}
}

// ListFollowing is the passive read: for every connected provider it
// serves the cache when fresh, refetches when stale, and falls back to
// whatever is cached when the fetch fails. The merged result is sorted
// by (platform, name) regardless of provider completion order.
//
// Only storage errors can fail this call.
func (s *Service) ListFollowing(ctx context.Context, userID string) ([]streamers.Streamer, error) {
	var connected []provider.Provider
	for _, p := range s.providers {
		_, err := s.tokens.AccessToken(ctx, userID, p.Platform())
		if errors.Is(err, streamers.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		connected = append(connected, p)
	}

	results := make([][]streamers.Streamer, len(connected))
	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range connected {
		g.Go(func() error {
			items, err := s.refreshIfStale(gCtx, userID, p)
			if err != nil {
				return err
			}
			results[i] = items

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := []streamers.Streamer{}
	for _, items := range results {
		merged = append(merged, items...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Provider != merged[j].Provider {
			return merged[i].Provider < merged[j].Provider
		}
		return merged[i].Name < merged[j].Name
	})

	return merged, nil
}

func (s *Service) refreshIfStale(ctx context.Context, userID string, p provider.Provider) ([]streamers.Streamer, error) {
	platform := p.Platform()

	state, err := s.states.SyncState(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	cached, err := s.following.CachedFollowing(ctx, userID, platform)
	if err != nil {
		return nil, err
	}
	if state.Fresh(s.ttl, s.now()) && len(cached) > 0 {
		return cached, nil
	}

	token, err := s.tokens.AccessToken(ctx, userID, platform)
	if errors.Is(err, streamers.ErrNotFound) {
		return cached, nil
	}
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "following fetch start", "provider", platform, "user_id", userID)
	items, ferr := p.FetchFollowing(ctx, token)
	if ferr != nil {
		slog.WarnContext(ctx, "following fetch failed", "provider", platform, "user_id", userID, "error", ferr)
		if err := s.states.RecordSyncFailure(ctx, userID, platform, ferr.Error()); err != nil {
			return nil, err
		}

		return cached, nil
	}

	if err := s.replace(ctx, userID, platform, items); err != nil {
		return nil, err
	}

	return items, nil
}

// replace stamps ownership and timestamps onto freshly fetched rows,
// swaps the cached set, and records the success.
func (s *Service) replace(ctx context.Context, userID string, platform streamers.Platform, items []streamers.Streamer) error {
	now := s.now()
	for i := range items {
		items[i].UserID = userID
		items[i].Provider = platform
		items[i].CreatedAt = now
		items[i].UpdatedAt = now
	}

	if err := s.following.ReplaceFollowing(ctx, userID, platform, items); err != nil {
		return err
	}

	return s.states.RecordSyncSuccess(ctx, userID, platform, now)
}

type (
	// SyncResult is the outcome for one provider within a manual sync.
	SyncResult struct {
		OK      bool   `json:"ok"`
		Count   *int   `json:"count,omitempty"`
		Error   string `json:"error,omitempty"`
		Skipped bool   `json:"skipped,omitempty"`
		Reason  string `json:"reason,omitempty"`
	}

	SyncSummary struct {
		OK               bool                              `json:"ok"`
		Results          map[streamers.Platform]SyncResult `json:"results"`
		CachedTTLSeconds int                               `json:"cached_ttl_s"`
	}
)

// SyncAll is the user-triggered refresh: throttled per user, then every
// known provider is fetched unconditionally, freshness ignored. One
// provider's failure doesn't block the others; it just shows in the
// summary.
func (s *Service) SyncAll(ctx context.Context, userID string) (SyncSummary, error) {
	// Record the invocation up front so a second call can't slip in
	// while fetches are still running.
	if !s.limiter.Allow(userID, s.now()) {
		return SyncSummary{}, ErrTooManyRequests
	}

	results := make([]SyncResult, len(s.providers))
	g, gCtx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		g.Go(func() error {
			res, err := s.syncOne(gCtx, userID, p)
			if err != nil {
				return err
			}
			results[i] = res

			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return SyncSummary{}, err
	}

	byPlatform := make(map[streamers.Platform]SyncResult, len(results))
	for i, p := range s.providers {
		byPlatform[p.Platform()] = results[i]
	}

	return SyncSummary{
		OK:               true,
		Results:          byPlatform,
		CachedTTLSeconds: int(s.ttl.Seconds()),
	}, nil
}

func (s *Service) syncOne(ctx context.Context, userID string, p provider.Provider) (SyncResult, error) {
	platform := p.Platform()

	token, err := s.tokens.AccessToken(ctx, userID, platform)
	if errors.Is(err, streamers.ErrNotFound) {
		return SyncResult{Skipped: true, Reason: "not_connected"}, nil
	}
	if err != nil {
		return SyncResult{}, err
	}

	items, ferr := p.FetchFollowing(ctx, token)
	if ferr != nil {
		slog.WarnContext(ctx, "manual sync failed", "provider", platform, "user_id", userID, "error", ferr)
		if err := s.states.RecordSyncFailure(ctx, userID, platform, ferr.Error()); err != nil {
			return SyncResult{}, err
		}

		return SyncResult{OK: false, Error: truncate(ferr.Error(), maxSummaryErrLen)}, nil
	}

	if err := s.replace(ctx, userID, platform, items); err != nil {
		return SyncResult{}, err
	}

	n := len(items)
	return SyncResult{OK: true, Count: &n}, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}

	return s
}
