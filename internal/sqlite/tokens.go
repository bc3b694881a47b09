package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

func (r *Repo) AccessToken(ctx context.Context, userID string, p streamers.Platform) (string, error) {
	const q = `SELECT access_token FROM auth_tokens WHERE user_id = ? AND provider = ?;`

	var token string
	err := r.db.GetContext(ctx, &token, q, userID, p)
	if errors.Is(err, sql.ErrNoRows) {
		return "", streamers.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("error fetching access token: %s", err)
	}

	return token, nil
}

func (r *Repo) UpsertToken(ctx context.Context, tok streamers.Token) error {
	const q = `INSERT INTO auth_tokens (user_id, provider, access_token, refresh_token, token_type, expires_at)
	VALUES (:user_id, :provider, :access_token, :refresh_token, :token_type, :expires_at)
	ON CONFLICT (user_id, provider) DO UPDATE SET
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		token_type = excluded.token_type,
		expires_at = excluded.expires_at;`

	if _, err := r.db.NamedExecContext(ctx, q, tok); err != nil {
		return fmt.Errorf("error upserting token: %s", err)
	}

	return nil
}
