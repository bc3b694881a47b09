package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/aggregator"
	apierrs "github.com/Eric-Lebedenko/kick-tg-rewards/internal/errors"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

type FollowingResp struct {
	StreamerID string             `json:"streamer_id"`
	Name       string             `json:"name"`
	Avatar     *string            `json:"avatar"`
	Platform   streamers.Platform `json:"platform"`
	IsLive     *bool              `json:"is_live"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// A stale or down provider never fails this read; the client just gets
// that provider's last known snapshot.
func (s *Server) getFollowing(w http.ResponseWriter, r *http.Request) error {
	sess := session(r, s.secureCookie)

	items, err := s.agg.ListFollowing(r.Context(), sess.UserID)
	if err != nil {
		return err
	}

	resp := make([]FollowingResp, 0, len(items))
	for _, item := range items {
		resp = append(resp, FollowingResp{
			StreamerID: item.StreamerID,
			Name:       item.Name,
			Avatar:     item.Avatar,
			Platform:   item.Provider,
			IsLive:     item.IsLive,
			UpdatedAt:  item.UpdatedAt,
		})
	}

	return writeJSON(w, http.StatusOK, resp)
}

func (s *Server) postFollowingSync(w http.ResponseWriter, r *http.Request) error {
	sess := session(r, s.secureCookie)

	summary, err := s.agg.SyncAll(r.Context(), sess.UserID)
	if errors.Is(err, aggregator.ErrTooManyRequests) {
		return apierrs.E(http.StatusTooManyRequests, "too many sync requests, try again later")
	}
	if err != nil {
		return err
	}

	return writeJSON(w, http.StatusOK, summary)
}

type SyncStatusResp struct {
	Provider     streamers.Platform `json:"provider"`
	Connected    bool               `json:"connected"`
	LastSyncedAt *time.Time         `json:"last_synced_at"`
	LastError    *string            `json:"last_error"`
}

// getSyncStatus exposes the per-provider sync state for users who want
// to know why a list looks stale.
func (s *Server) getSyncStatus(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx  = r.Context()
		sess = session(r, s.secureCookie)
	)

	resp := []SyncStatusResp{}
	for _, platform := range []streamers.Platform{streamers.PlatformTwitch, streamers.PlatformKick} {
		connected := true
		_, err := s.tokens.AccessToken(ctx, sess.UserID, platform)
		if errors.Is(err, streamers.ErrNotFound) {
			connected = false
		} else if err != nil {
			return err
		}

		state, err := s.states.SyncState(ctx, sess.UserID, platform)
		if err != nil {
			return err
		}

		resp = append(resp, SyncStatusResp{
			Provider:     platform,
			Connected:    connected,
			LastSyncedAt: state.LastSyncedAt,
			LastError:    state.LastError,
		})
	}

	return writeJSON(w, http.StatusOK, resp)
}
