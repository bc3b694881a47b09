package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

// SyncState fetches the state for the pair, creating an empty row on
// first access.
func (r *Repo) SyncState(ctx context.Context, userID string, p streamers.Platform) (streamers.SyncState, error) {
	const q = `SELECT * FROM following_sync_states WHERE user_id = ? AND provider = ?;`

	var state streamers.SyncState
	err := r.db.GetContext(ctx, &state, q, userID, p)
	if errors.Is(err, sql.ErrNoRows) {
		const ins = `INSERT INTO following_sync_states (user_id, provider, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, provider) DO NOTHING;`
		if _, err := r.db.ExecContext(ctx, ins, userID, p, time.Now().UTC()); err != nil {
			return streamers.SyncState{}, fmt.Errorf("error creating sync state: %s", err)
		}
		err = r.db.GetContext(ctx, &state, q, userID, p)
	}
	if err != nil {
		return streamers.SyncState{}, fmt.Errorf("error fetching sync state: %s", err)
	}

	return state, nil
}

func (r *Repo) RecordSyncSuccess(ctx context.Context, userID string, p streamers.Platform, at time.Time) error {
	return r.updateState(ctx, userID, p, map[string]any{
		"last_synced_at": at,
		"last_error":     nil,
	})
}

// RecordSyncFailure stores the error message, truncated to the bound,
// and leaves last_synced_at alone.
func (r *Repo) RecordSyncFailure(ctx context.Context, userID string, p streamers.Platform, msg string) error {
	if len(msg) > streamers.MaxSyncErrorLen {
		msg = msg[:streamers.MaxSyncErrorLen]
	}

	return r.updateState(ctx, userID, p, map[string]any{
		"last_error": msg,
	})
}

func (r *Repo) updateState(ctx context.Context, userID string, p streamers.Platform, sets map[string]any) error {
	// The row may not exist yet when a manual sync is the first thing
	// to touch the pair.
	if _, err := r.SyncState(ctx, userID, p); err != nil {
		return err
	}

	q := sq.Update("following_sync_states").Set("updated_at", time.Now().UTC())
	for col, val := range sets {
		q = q.Set(col, val)
	}
	q = q.Where(sq.Eq{"user_id": userID, "provider": p})

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %s", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("error updating sync state: %s", err)
	}

	return nil
}
