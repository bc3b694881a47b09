package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

// Ensure Repo implements the storage surfaces
var (
	_ streamers.FollowingRepo = (*Repo)(nil)
	_ streamers.SyncStateRepo = (*Repo)(nil)
	_ streamers.TokenRepo     = (*Repo)(nil)
	_ streamers.UserRepo      = (*Repo)(nil)
)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}
