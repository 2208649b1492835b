package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-engine/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads profiles from the users table owned by the account service.
type UserRepository interface {
	GetUser(ctx context.Context, userID string) (models.UserSummary, error)
}

// UserRepo is a read-only sqlx view over users.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUser(ctx context.Context, userID string) (models.UserSummary, error) {
	var user models.UserSummary
	err := r.db.GetContext(ctx, &user, `SELECT id, name, profile_image_url FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserSummary{}, ErrUserNotFound
	}
	return user, err
}
