package identity

import (
	"context"

	"github.com/justestif/go-spotify-mood-recommender/internal/db"
)

// DBStore adapts *db.DB to Store.
type DBStore struct {
	DB *db.DB
}

// UpsertLinkage creates or replaces the account's provider linkage.
func (s DBStore) UpsertLinkage(ctx context.Context, link *db.Linkage) error {
	return s.DB.Linkages().Upsert(ctx, link)
}

// FindLinkageBySubject returns the linkage owning a provider subject.
func (s DBStore) FindLinkageBySubject(ctx context.Context, provider, subject string) (*db.Linkage, error) {
	return s.DB.Linkages().FindBySubject(ctx, provider, subject)
}

// UpdateLinkageTokens replaces the stored credentials of a linkage.
func (s DBStore) UpdateLinkageTokens(ctx context.Context, provider, subject string, tok db.Tokens) error {
	return s.DB.Linkages().UpdateTokens(ctx, provider, subject, tok)
}

// GetUser returns an account by id.
func (s DBStore) GetUser(ctx context.Context, id int64) (*db.User, error) {
	return s.DB.Users().Get(ctx, id)
}

// GetUserByEmail returns an account by email.
func (s DBStore) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	return s.DB.Users().GetByEmail(ctx, email)
}

// ProvisionUser creates an account and its linkage in one transaction.
func (s DBStore) ProvisionUser(ctx context.Context, nu db.NewUser, link *db.Linkage) (*db.User, error) {
	return s.DB.Users().Provision(ctx, nu, link)
}

// TouchLogin records a login time for the account.
func (s DBStore) TouchLogin(ctx context.Context, userID int64) error {
	return s.DB.Users().TouchLogin(ctx, userID)
}

var _ Store = DBStore{}
