package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/homeyield/selection-server-go/internal/model"
)

type UserRepository interface {
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error)
}

type userRepo struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) FindByTokenHash(ctx context.Context, tokenHash string) (*model.User, error) {
	var user model.User
	err := r.db.GetContext(ctx, &user, `
		SELECT * FROM users WHERE token_hash = $1
	`, tokenHash)
	return HandleNotFound(&user, err)
}
