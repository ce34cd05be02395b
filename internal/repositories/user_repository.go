package repositories

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"messenger-service/internal/models"
)

// UserRepository is the user directory plus per-user view state.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.User, error)
	GetUsers(ctx context.Context, ids []int) ([]models.User, error)
	SearchByHandle(ctx context.Context, prefix string, excludeID, limit int) ([]models.User, error)
	TouchLastSeen(ctx context.Context, userID int, at time.Time) error
	GetScrollPosition(ctx context.Context, userID, peerID int) (int, error)
	SetScrollPosition(ctx context.Context, userID, peerID, position int) error
}

const userColumns = `id, name, COALESCE(handle, '') AS handle, COALESCE(avatar, '') AS avatar, last_seen`

// UserRepo is a sqlx-backed repository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return u, err
}

// GetUsers returns the known users among ids ordered by id. Unknown ids are skipped.
func (r *UserRepo) GetUsers(ctx context.Context, ids []int) ([]models.User, error) {
	users := []models.User{}
	if len(ids) == 0 {
		return users, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, err
}

// SearchByHandle matches handles case-insensitively by prefix.
func (r *UserRepo) SearchByHandle(ctx context.Context, prefix string, excludeID, limit int) ([]models.User, error) {
	users := []models.User{}
	prefix = strings.TrimPrefix(strings.TrimSpace(prefix), "@")
	if prefix == "" {
		return users, nil
	}
	pattern := escapeLike(strings.ToLower(prefix)) + "%"
	err := r.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users
        WHERE LOWER(handle) LIKE $1 AND id <> $2 ORDER BY handle LIMIT $3`, pattern, excludeID, limit)
	return users, err
}

func (r *UserRepo) TouchLastSeen(ctx context.Context, userID int, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_seen=$2 WHERE id=$1`, userID, at)
	return err
}

// GetScrollPosition returns 0 when nothing was stored.
func (r *UserRepo) GetScrollPosition(ctx context.Context, userID, peerID int) (int, error) {
	var pos int
	err := r.db.GetContext(ctx, &pos, `SELECT position FROM scroll_positions WHERE user_id=$1 AND peer_id=$2`, userID, peerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return pos, err
}

func (r *UserRepo) SetScrollPosition(ctx context.Context, userID, peerID, position int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO scroll_positions (user_id, peer_id, position) VALUES ($1, $2, $3)
        ON CONFLICT (user_id, peer_id) DO UPDATE SET position = EXCLUDED.position`, userID, peerID, position)
	return err
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
