package sqlite

import (
	"context"
	"fmt"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

func (r *Repo) CachedFollowing(ctx context.Context, userID string, p streamers.Platform) ([]streamers.Streamer, error) {
	const q = `SELECT * FROM following WHERE user_id = ? AND provider = ? ORDER BY name ASC;`

	rows := []streamers.Streamer{}
	if err := r.db.SelectContext(ctx, &rows, q, userID, p); err != nil {
		return nil, fmt.Errorf("error selecting cached following: %s", err)
	}

	return rows, nil
}

// ReplaceFollowing swaps the whole cached set for the pair inside one
// transaction: readers see the old set or the new one, never a mix.
func (r *Repo) ReplaceFollowing(ctx context.Context, userID string, p streamers.Platform, items []streamers.Streamer) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning transaction: %s", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM following WHERE user_id = ? AND provider = ?;`, userID, p); err != nil {
		return fmt.Errorf("error clearing cached following: %s", err)
	}

	if len(items) > 0 {
		const q = `INSERT INTO following (user_id, provider, streamer_id, name, avatar, is_live, created_at, updated_at)
		VALUES (:user_id, :provider, :streamer_id, :name, :avatar, :is_live, :created_at, :updated_at);`
		if _, err := tx.NamedExecContext(ctx, q, items); err != nil {
			return fmt.Errorf("error inserting following: %s", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing following replace: %s", err)
	}

	return nil
}
