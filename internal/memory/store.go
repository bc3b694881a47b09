// Package memory is an in-memory implementation of the storage
// surfaces, mirroring the sqlite semantics. It backs tests and any
// setup that doesn't want a database on disk.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

var (
	_ streamers.FollowingRepo = (*Store)(nil)
	_ streamers.SyncStateRepo = (*Store)(nil)
	_ streamers.TokenRepo     = (*Store)(nil)
	_ streamers.UserRepo      = (*Store)(nil)
)

type key struct {
	userID   string
	platform streamers.Platform
}

type Store struct {
	mu        sync.Mutex
	following map[key][]streamers.Streamer
	states    map[key]streamers.SyncState
	tokens    map[key]streamers.Token
	users     map[string]streamers.User
}

func NewStore() *Store {
	return &Store{
		following: make(map[key][]streamers.Streamer),
		states:    make(map[key]streamers.SyncState),
		tokens:    make(map[key]streamers.Token),
		users:     make(map[string]streamers.User),
	}
}

func (s *Store) CachedFollowing(_ context.Context, userID string, p streamers.Platform) ([]streamers.Streamer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := slices.Clone(s.following[key{userID, p}])
	slices.SortFunc(out, func(a, b streamers.Streamer) int {
		return strings.Compare(a.Name, b.Name)
	})

	return out, nil
}

func (s *Store) ReplaceFollowing(_ context.Context, userID string, p streamers.Platform, items []streamers.Streamer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.following[key{userID, p}] = slices.Clone(items)

	return nil
}

func (s *Store) SyncState(_ context.Context, userID string, p streamers.Platform) (streamers.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stateLocked(userID, p), nil
}

func (s *Store) stateLocked(userID string, p streamers.Platform) streamers.SyncState {
	k := key{userID, p}
	state, ok := s.states[k]
	if !ok {
		state = streamers.SyncState{UserID: userID, Provider: p, UpdatedAt: time.Now().UTC()}
		s.states[k] = state
	}

	return state
}

func (s *Store) RecordSyncSuccess(_ context.Context, userID string, p streamers.Platform, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(userID, p)
	state.LastSyncedAt = &at
	state.LastError = nil
	state.UpdatedAt = time.Now().UTC()
	s.states[key{userID, p}] = state

	return nil
}

func (s *Store) RecordSyncFailure(_ context.Context, userID string, p streamers.Platform, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(msg) > streamers.MaxSyncErrorLen {
		msg = msg[:streamers.MaxSyncErrorLen]
	}

	state := s.stateLocked(userID, p)
	state.LastError = &msg
	state.UpdatedAt = time.Now().UTC()
	s.states[key{userID, p}] = state

	return nil
}

func (s *Store) AccessToken(_ context.Context, userID string, p streamers.Platform) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[key{userID, p}]
	if !ok {
		return "", streamers.ErrNotFound
	}

	return tok.AccessToken, nil
}

func (s *Store) UpsertToken(_ context.Context, tok streamers.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[key{tok.UserID, tok.Provider}] = tok

	return nil
}

func (s *Store) User(_ context.Context, id string) (streamers.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	usr, ok := s.users[id]
	if !ok {
		return streamers.User{}, streamers.ErrNotFound
	}

	return usr, nil
}

func (s *Store) EnsureUser(_ context.Context, usr streamers.User) (streamers.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if match(existing.TwitchID, usr.TwitchID) || match(existing.KickID, usr.KickID) {
			return existing, nil
		}
	}

	if usr.ID == "" {
		usr.ID = uuid.NewString() + "-usr"
	}
	usr.CreatedAt = time.Now().UTC()
	s.users[usr.ID] = usr

	return usr, nil
}

func match(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}
