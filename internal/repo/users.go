package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/db"
	"github.com/doug-martin/goqu/v9"
	"github.com/rs/zerolog/log"
)

type userRow struct {
	ID           int64  `db:"id" goqu:"skipinsert,skipupdate"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	CreatedAt    Date   `db:"created_at" goqu:"skipupdate"`
}

type UsersRepo struct {
	db *db.DB
}

func NewUsersRepo(conn *db.DB) *UsersRepo {
	return &UsersRepo{db: conn}
}

func (r *UsersRepo) Create(ctx context.Context, username, passwordHash string) (*internal.User, error) {
	executor := r.db.Goqu()

	now := Date(time.Now().UTC())
	_, err := executor.Insert("users").
		Cols("username", "password_hash", "created_at").
		Vals([]any{username, passwordHash, now}).
		Executor().ExecContext(ctx)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, internal.ErrUserExists
		}
		log.Error().Err(err).Str("username", username).Msg("failed to create user")
		return nil, fmt.Errorf("insert user: %w", err)
	}

	user, err := r.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	log.Info().Int64("id", user.ID).Str("username", username).Msg("user created")
	return user, nil
}

func (r *UsersRepo) GetByUsername(ctx context.Context, username string) (*internal.User, error) {
	return r.getWhere(ctx, goqu.Ex{"username": username})
}

func (r *UsersRepo) GetByID(ctx context.Context, id int64) (*internal.User, error) {
	return r.getWhere(ctx, goqu.Ex{"id": id})
}

func (r *UsersRepo) getWhere(ctx context.Context, where goqu.Ex) (*internal.User, error) {
	query := r.db.Goqu().From("users").Where(where).Select(
		"id", "username", "password_hash", "created_at",
	)

	var row userRow
	found, err := query.ScanStructContext(ctx, &row)
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	if !found {
		return nil, internal.ErrUserNotFound
	}

	return row.toDomain(), nil
}

func (r *userRow) toDomain() *internal.User {
	return &internal.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt.Time(),
	}
}
