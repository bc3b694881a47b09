package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

const (
	helixDefaultURL = "https://api.twitch.tv/helix"

	// Helix caps both page size and batched id lookups at 100.
	helixBatchSize = 100
)

// Twitch lists the channels a user follows through the Helix API.
//
// A fetch is one identity call, a cursor walk over /channels/followed,
// then batched secondary lookups for avatars and live status. The
// secondary lookups are best effort: when they fail the fields stay
// absent rather than aborting the fetch.
type Twitch struct {
	clientID string
	baseURL  string

	// Short timeout for identity/profile calls, longer for the
	// paginated list and batch calls.
	authClient *http.Client
	listClient *http.Client

	// Avatar URLs barely change, so batched profile lookups are
	// memoized across syncs.
	avatars *lru.Cache[string, string]
}

func NewTwitch(clientID string) *Twitch {
	cache, _ := lru.New[string, string](4096)

	return &Twitch{
		clientID:   clientID,
		baseURL:    helixDefaultURL,
		authClient: &http.Client{Timeout: 10 * time.Second},
		listClient: &http.Client{Timeout: 20 * time.Second},
		avatars:    cache,
	}
}

func (t *Twitch) Platform() streamers.Platform {
	return streamers.PlatformTwitch
}

func (t *Twitch) FetchFollowing(ctx context.Context, accessToken string) ([]streamers.Streamer, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: missing twitch access token", ErrMisconfigured)
	}

	// Helix wants the viewer's numeric id to list followed channels.
	var me struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := t.getJSON(ctx, t.authClient, accessToken, "/users", nil, &me); err != nil {
		return nil, err
	}
	if len(me.Data) == 0 || me.Data[0].ID == "" {
		return nil, nil
	}

	type followed struct {
		id   string
		name string
	}
	var (
		channels []followed
		cursor   string
	)
	for {
		params := url.Values{
			"user_id": {me.Data[0].ID},
			"first":   {strconv.Itoa(helixBatchSize)},
		}
		if cursor != "" {
			params.Set("after", cursor)
		}

		var page struct {
			Data []struct {
				BroadcasterID    string `json:"broadcaster_id"`
				BroadcasterName  string `json:"broadcaster_name"`
				BroadcasterLogin string `json:"broadcaster_login"`
			} `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := t.getJSON(ctx, t.listClient, accessToken, "/channels/followed", params, &page); err != nil {
			return nil, err
		}

		for _, row := range page.Data {
			name := row.BroadcasterName
			if name == "" {
				name = row.BroadcasterLogin
			}
			channels = append(channels, followed{id: row.BroadcasterID, name: name})
		}

		cursor = page.Pagination.Cursor
		if cursor == "" || len(page.Data) == 0 {
			break
		}
	}

	var ids []string
	for _, ch := range channels {
		if ch.id != "" {
			ids = append(ids, ch.id)
		}
	}

	avatars := t.avatarsByID(ctx, accessToken, ids)
	live, liveKnown := t.liveIDs(ctx, accessToken, ids)

	out := make([]streamers.Streamer, 0, len(channels))
	for _, ch := range channels {
		if ch.id == "" {
			// No resolvable identifier, drop it.
			continue
		}
		name := ch.name
		if name == "" {
			name = ch.id
		}

		s := streamers.Streamer{
			Provider:   streamers.PlatformTwitch,
			StreamerID: ch.id,
			Name:       sanitizeName(name),
		}
		if a, ok := avatars[ch.id]; ok && a != "" {
			s.Avatar = &a
		}
		if liveKnown {
			isLive := live[ch.id]
			s.IsLive = &isLive
		}
		out = append(out, s)
	}

	return out, nil
}

// avatarsByID resolves profile image URLs for the given channel ids,
// serving from the memoization cache where possible and batching the
// rest. A failed batch just leaves its ids unresolved.
func (t *Twitch) avatarsByID(ctx context.Context, accessToken string, ids []string) map[string]string {
	out := make(map[string]string, len(ids))

	var misses []string
	for _, id := range ids {
		if a, ok := t.avatars.Get(id); ok {
			out[id] = a
			continue
		}
		misses = append(misses, id)
	}

	for chunk := range slices.Chunk(misses, helixBatchSize) {
		var resp struct {
			Data []struct {
				ID              string `json:"id"`
				ProfileImageURL string `json:"profile_image_url"`
			} `json:"data"`
		}
		if err := t.getJSON(ctx, t.authClient, accessToken, "/users", url.Values{"id": chunk}, &resp); err != nil {
			slog.WarnContext(ctx, "twitch avatar lookup failed", "error", err)
			continue
		}

		for _, u := range resp.Data {
			if u.ID == "" {
				continue
			}
			out[u.ID] = u.ProfileImageURL
			t.avatars.Add(u.ID, u.ProfileImageURL)
		}
	}

	return out
}

// liveIDs returns the set of channel ids currently streaming. The
// second return is false when any batch failed, in which case live
// status is unknown and must not be reported as offline.
func (t *Twitch) liveIDs(ctx context.Context, accessToken string, ids []string) (map[string]bool, bool) {
	live := make(map[string]bool)
	known := true

	for chunk := range slices.Chunk(ids, helixBatchSize) {
		var resp struct {
			Data []struct {
				UserID string `json:"user_id"`
			} `json:"data"`
		}
		if err := t.getJSON(ctx, t.listClient, accessToken, "/streams", url.Values{"user_id": chunk}, &resp); err != nil {
			slog.WarnContext(ctx, "twitch live lookup failed", "error", err)
			known = false
			continue
		}

		for _, s := range resp.Data {
			if s.UserID != "" {
				live[s.UserID] = true
			}
		}
	}

	return live, known
}

func (t *Twitch) getJSON(ctx context.Context, client *http.Client, accessToken, path string, params url.Values, target any) error {
	u := t.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("error building request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", t.clientID)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("error decoding %s response: %s", path, err)
	}

	return nil
}
