package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

const kickDefaultURL = "https://api.kick.com/public/v1"

// Kick lists followed channels through Kick's public API.
//
// The API is thinly documented, so the adapter tries a short list of
// candidate endpoints and parses whatever shape comes back with an
// ordered set of field candidates per target field, first match wins.
type Kick struct {
	clientID string
	baseURL  string
	client   *http.Client

	candidatePaths []string
}

func NewKick(clientID string) *Kick {
	return &Kick{
		clientID: clientID,
		baseURL:  kickDefaultURL,
		client:   &http.Client{Timeout: 20 * time.Second},
		candidatePaths: []string{
			"/channels/following",
			"/users/following",
		},
	}
}

func (k *Kick) Platform() streamers.Platform {
	return streamers.PlatformKick
}

func (k *Kick) FetchFollowing(ctx context.Context, accessToken string) ([]streamers.Streamer, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("%w: missing kick access token", ErrMisconfigured)
	}

	// Walk the candidates until one answers. Earlier failures are
	// logged so their diagnostics aren't lost; the last one is what
	// the caller sees if everything misses.
	var (
		payload map[string]any
		lastErr error
	)
	for _, path := range k.candidatePaths {
		err := k.getJSON(ctx, accessToken, path, &payload)
		if err == nil {
			lastErr = nil
			break
		}
		slog.WarnContext(ctx, "kick following endpoint failed", "path", path, "error", err)
		lastErr = err
		payload = nil
	}
	if lastErr != nil {
		return nil, lastErr
	}

	rows, _ := payload["data"].([]any)
	out := make([]streamers.Streamer, 0, len(rows))
	for _, raw := range rows {
		row, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		// Some shapes nest the channel, some are flat.
		ch := row
		if nested, ok := row["channel"].(map[string]any); ok {
			ch = nested
		}

		id := firstString(ch, "id", "channel_id", "user_id")
		if id == "" {
			id = firstString(row, "id")
		}
		name := firstString(ch, "name", "slug", "username", "user")
		if name == "" {
			name = firstString(row, "name")
		}
		avatar := firstString(ch, "profile_picture", "avatar", "image")
		if avatar == "" {
			avatar = firstString(row, "profile_picture")
		}

		// Slug-only shapes have no id at all; the name has to serve.
		if id == "" {
			id = name
		}
		if id == "" {
			continue
		}
		if name == "" {
			name = id
		}

		s := streamers.Streamer{
			Provider:   streamers.PlatformKick,
			StreamerID: id,
			Name:       sanitizeName(name),
		}
		if avatar != "" {
			s.Avatar = &avatar
		}
		if v, ok := ch["is_live"]; ok {
			isLive, _ := v.(bool)
			s.IsLive = &isLive
		} else if _, ok := ch["livestream"].(map[string]any); ok {
			isLive := true
			s.IsLive = &isLive
		}

		out = append(out, s)
	}

	return out, nil
}

func (k *Kick) getJSON(ctx context.Context, accessToken, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("error building request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", k.clientID)
	req.Header.Set("Accept", "application/json")

	resp, err := k.client.Do(req)
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
