// Package streamers holds the domain types for the followed-streamers
// view: the canonical follow records, per-provider sync state, and the
// storage surfaces the rest of the system is built against.
package streamers

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("resource not found")

// Platform is one of the external streaming services we can pull a
// follow list from.
type Platform string

const (
	PlatformTwitch Platform = "twitch"
	PlatformKick   Platform = "kick"
)

// MaxSyncErrorLen caps the stored last_error so verbose upstream
// failures don't grow the sync state rows without bound.
const MaxSyncErrorLen = 500

type (
	// Streamer is one followed channel as last seen on a platform.
	// Rows are superseded wholesale on each successful sync, never
	// patched field by field. Timestamps are stamped by the
	// aggregator when a sync succeeds.
	Streamer struct {
		UserID     string    `db:"user_id"`
		Provider   Platform  `db:"provider"`
		StreamerID string    `db:"streamer_id"`
		Name       string    `db:"name"`
		Avatar     *string   `db:"avatar"`
		IsLive     *bool     `db:"is_live"`
		CreatedAt  time.Time `db:"created_at"`
		UpdatedAt  time.Time `db:"updated_at"`
	}

	// SyncState tracks the last fetch outcome for one (user, provider)
	// pair. LastSyncedAt is only ever set by a successful fetch.
	SyncState struct {
		UserID       string     `db:"user_id"`
		Provider     Platform   `db:"provider"`
		LastSyncedAt *time.Time `db:"last_synced_at"`
		LastError    *string    `db:"last_error"`
		UpdatedAt    time.Time  `db:"updated_at"`
	}

	// Token is a stored OAuth access token for a platform. Holding one
	// is what makes a provider "connected" for a user.
	Token struct {
		UserID       string     `db:"user_id"`
		Provider     Platform   `db:"provider"`
		AccessToken  string     `db:"access_token"`
		RefreshToken *string    `db:"refresh_token"`
		TokenType    *string    `db:"token_type"`
		ExpiresAt    *time.Time `db:"expires_at"`
	}

	User struct {
		ID          string    `db:"id"`
		TwitchID    *string   `db:"twitch_id"`
		KickID      *string   `db:"kick_id"`
		Email       *string   `db:"email"`
		DisplayName *string   `db:"display_name"`
		AvatarURL   *string   `db:"avatar_url"`
		CreatedAt   time.Time `db:"created_at"`
	}

	// FollowingRepo is the durable per (user, provider) snapshot of the
	// last successfully fetched follow list.
	FollowingRepo interface {
		// CachedFollowing returns the cached follow list ordered by
		// name ascending, or an empty slice when nothing is cached.
		CachedFollowing(ctx context.Context, userID string, p Platform) ([]Streamer, error)
		// ReplaceFollowing swaps the whole cached set in one
		// transaction so readers never observe a partial replace.
		ReplaceFollowing(ctx context.Context, userID string, p Platform, items []Streamer) error
	}

	SyncStateRepo interface {
		// SyncState returns the state for the pair, creating an empty
		// one on first access.
		SyncState(ctx context.Context, userID string, p Platform) (SyncState, error)
		RecordSyncSuccess(ctx context.Context, userID string, p Platform, at time.Time) error
		RecordSyncFailure(ctx context.Context, userID string, p Platform, msg string) error
	}

	TokenRepo interface {
		// AccessToken returns the stored token for the pair, or
		// ErrNotFound when the provider isn't connected.
		AccessToken(ctx context.Context, userID string, p Platform) (string, error)
		UpsertToken(ctx context.Context, tok Token) error
	}

	UserRepo interface {
		User(ctx context.Context, id string) (User, error)
		// EnsureUser upserts by platform identity and returns the
		// canonical row.
		EnsureUser(ctx context.Context, usr User) (User, error)
	}
)

// Fresh reports whether the last successful sync is recent enough to
// serve from cache. A gap exactly equal to ttl still counts as fresh.
func (s SyncState) Fresh(ttl time.Duration, now time.Time) bool {
	if s.LastSyncedAt == nil {
		return false
	}

	return now.Sub(*s.LastSyncedAt) <= ttl
}
