package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

const userNamespace = "-usr"

func (r *Repo) User(ctx context.Context, id string) (streamers.User, error) {
	const q = `SELECT * FROM users WHERE id = ?;`

	var usr streamers.User
	err := r.db.GetContext(ctx, &usr, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return streamers.User{}, streamers.ErrNotFound
	}
	if err != nil {
		return streamers.User{}, fmt.Errorf("error fetching user: %s", err)
	}

	return usr, nil
}

// EnsureUser upserts by whichever platform identity the user arrived
// with and returns the canonical row. Profile fields only overwrite
// when the new value is present.
func (r *Repo) EnsureUser(ctx context.Context, usr streamers.User) (streamers.User, error) {
	usr.ID = uuid.NewString() + userNamespace
	usr.CreatedAt = time.Now().UTC()

	var (
		conflictCol string
		key         string
	)
	switch {
	case usr.TwitchID != nil:
		conflictCol, key = "twitch_id", *usr.TwitchID
	case usr.KickID != nil:
		conflictCol, key = "kick_id", *usr.KickID
	default:
		return streamers.User{}, fmt.Errorf("user has no platform identity")
	}

	// The conflict target has to repeat the partial index predicate or
	// sqlite won't match it to the index.
	q := fmt.Sprintf(`INSERT INTO users (id, twitch_id, kick_id, email, display_name, avatar_url, created_at)
	VALUES (:id, :twitch_id, :kick_id, :email, :display_name, :avatar_url, :created_at)
	ON CONFLICT (%[1]s) WHERE %[1]s IS NOT NULL DO UPDATE SET
		email = COALESCE(excluded.email, users.email),
		display_name = COALESCE(excluded.display_name, users.display_name),
		avatar_url = COALESCE(excluded.avatar_url, users.avatar_url);`, conflictCol)
	if _, err := r.db.NamedExecContext(ctx, q, usr); err != nil {
		return streamers.User{}, fmt.Errorf("error upserting user: %s", err)
	}

	sel := fmt.Sprintf(`SELECT * FROM users WHERE %s = ?;`, conflictCol)
	var out streamers.User
	if err := r.db.GetContext(ctx, &out, sel, key); err != nil {
		return streamers.User{}, fmt.Errorf("error fetching user: %s", err)
	}

	return out, nil
}
