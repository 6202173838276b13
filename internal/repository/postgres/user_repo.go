package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, external_id, email, display_name, avatar_url, created_at, updated_at`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.DisplayName, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Ensure upserts on external_id. Optional profile fields left nil keep their stored value.
func (r *UserRepo) Ensure(ctx context.Context, u *model.User) (model.User, error) {
	id := u.ID
	if id == uuid.Nil {
		var err error
		if id, err = uuid.NewV4(); err != nil {
			return model.User{}, fmt.Errorf("new user id: %w", err)
		}
	}
	const q = `
INSERT INTO users (id, external_id, email, display_name, avatar_url)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (external_id) DO UPDATE
SET email = EXCLUDED.email,
    display_name = COALESCE(EXCLUDED.display_name, users.display_name),
    avatar_url = COALESCE(EXCLUDED.avatar_url, users.avatar_url),
    updated_at = now()
RETURNING ` + userColumns
	out, err := scanUser(r.db.Pool.QueryRow(ctx, q, id, u.ExternalID, u.Email, u.DisplayName, u.AvatarURL))
	if isUniqueViolation(err) {
		return model.User{}, errs.ErrAlreadyExists
	}
	if err != nil {
		return model.User{}, err
	}
	return out, nil
}

// GetByExternalID selects a user by external identity id.
func (r *UserRepo) GetByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE external_id=$1`
	u, err := scanUser(r.db.Pool.QueryRow(ctx, q, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// List selects every user.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users ORDER BY created_at, id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
