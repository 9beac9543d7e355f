package account

import (
	"context"

	"github.com/justestif/go-spotify-mood-recommender/internal/db"
)

// DBStore adapts *db.DB to Store.
type DBStore struct {
	DB *db.DB
}

// GetUser returns an account by id.
func (s DBStore) GetUser(ctx context.Context, id int64) (*db.User, error) {
	return s.DB.Users().Get(ctx, id)
}

// GetUserByEmail returns an account by email.
func (s DBStore) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	return s.DB.Users().GetByEmail(ctx, email)
}

// CreateUser inserts an account with a local password hash.
func (s DBStore) CreateUser(ctx context.Context, nu db.NewUser, passwordHash string) (*db.User, error) {
	return s.DB.Users().Create(ctx, nu, passwordHash)
}

// UpdateProfile changes an account's username and/or email.
func (s DBStore) UpdateProfile(ctx context.Context, id int64, upd db.ProfileUpdate) (*db.User, error) {
	return s.DB.Users().UpdateProfile(ctx, id, upd)
}

// SetPasswordHash replaces an account's password hash.
func (s DBStore) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	return s.DB.Users().SetPasswordHash(ctx, id, hash)
}

// TouchLogin records a login time for the account.
func (s DBStore) TouchLogin(ctx context.Context, userID int64) error {
	return s.DB.Users().TouchLogin(ctx, userID)
}

var _ Store = DBStore{}
