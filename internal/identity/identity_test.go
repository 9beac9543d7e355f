package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
	"github.com/justestif/go-spotify-mood-recommender/internal/auth"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

type fakeExchanger struct {
	grant *auth.Grant
	err   error
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, code string) (*auth.Grant, error) {
	if f.err != nil {
		return nil, f.err
	}
	g := *f.grant
	return &g, nil
}

type fakeProfiles struct {
	profile *spotify.Profile
	err     error
}

func (f *fakeProfiles) Profile(ctx context.Context, tok *oauth2.Token) (*spotify.Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

type linkKey struct {
	userID   int64
	provider string
}

// fakeStore enforces the same unique constraints as the schema.
type fakeStore struct {
	users    map[int64]*db.User
	linkages map[linkKey]*db.Linkage
	nextID   int64
	writes   int
	logins   map[int64]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*db.User),
		linkages: make(map[linkKey]*db.Linkage),
		logins:   make(map[int64]int),
		nextID:   1,
	}
}

func (s *fakeStore) addUser(username, email string) *db.User {
	u := &db.User{ID: s.nextID, Username: username, Email: email, PasswordHash: "hash"}
	s.users[u.ID] = u
	s.nextID++
	return u
}

func (s *fakeStore) UpsertLinkage(ctx context.Context, link *db.Linkage) error {
	s.writes++
	for k, l := range s.linkages {
		if l.Provider == link.Provider && l.ProviderUserID == link.ProviderUserID && k.userID != link.UserID {
			return db.ErrSubjectLinked
		}
	}
	cp := *link
	s.linkages[linkKey{link.UserID, link.Provider}] = &cp
	return nil
}

func (s *fakeStore) FindLinkageBySubject(ctx context.Context, provider, subject string) (*db.Linkage, error) {
	for _, l := range s.linkages {
		if l.Provider == provider && l.ProviderUserID == subject {
			cp := *l
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) UpdateLinkageTokens(ctx context.Context, provider, subject string, tok db.Tokens) error {
	s.writes++
	for _, l := range s.linkages {
		if l.Provider == provider && l.ProviderUserID == subject {
			l.AccessToken = tok.AccessToken
			l.RefreshToken = tok.RefreshToken
			l.Scope = tok.Scope
			l.ExpiresAt = tok.ExpiresAt
			return nil
		}
	}
	return db.ErrNotFound
}

func (s *fakeStore) TouchLogin(ctx context.Context, userID int64) error {
	s.logins[userID]++
	return nil
}

func (s *fakeStore) GetUser(ctx context.Context, id int64) (*db.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *fakeStore) ProvisionUser(ctx context.Context, nu db.NewUser, link *db.Linkage) (*db.User, error) {
	s.writes++
	user, _ := s.GetUserByEmail(ctx, nu.Email)
	if user == nil {
		for _, u := range s.users {
			if u.Username == nu.Username {
				return nil, db.ErrUsernameTaken
			}
		}
		user = &db.User{ID: s.nextID, Username: nu.Username, Email: nu.Email, PasswordHash: db.ExternalPasswordMarker}
		s.users[user.ID] = user
		s.nextID++
	}
	link.UserID = user.ID
	if err := s.UpsertLinkage(ctx, link); err != nil {
		return nil, err
	}
	return user, nil
}

type fakeIssuer struct{}

func (fakeIssuer) Issue(userID int64, email, username string) (string, error) {
	return fmt.Sprintf("session-%d", userID), nil
}

func grant(access string) *auth.Grant {
	return &auth.Grant{
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		Scope:        "user-read-email",
		Expiry:       time.Now().Add(55 * time.Minute),
	}
}

func newResolver(store Store, g *auth.Grant, p *spotify.Profile, opts ...Option) *Resolver {
	return New(&fakeExchanger{grant: g}, &fakeProfiles{profile: p}, store, fakeIssuer{}, opts...)
}

func userID(id int64) *int64 { return &id }

func TestResolve_LoginNew_MissingEmail(t *testing.T) {
	store := newFakeStore()
	r := newResolver(store, grant("a1"), &spotify.Profile{ID: "sub-1", DisplayName: "Ana Maria"})

	res, err := r.Resolve(context.Background(), Callback{Code: "code"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if res.Outcome != OutcomeLogin {
		t.Errorf("Outcome = %q, want login", res.Outcome)
	}
	if res.SessionToken == "" {
		t.Error("expected a session token")
	}
	if len(store.users) != 1 {
		t.Fatalf("users = %d, want 1", len(store.users))
	}

	user := store.users[res.AccountID]
	if user.Email != "sub-1@spotify.local" {
		t.Errorf("Email = %q, want placeholder", user.Email)
	}
	if user.Username != "ana_maria" {
		t.Errorf("Username = %q, want ana_maria", user.Username)
	}
	if !user.ExternallyAuthenticated() {
		t.Error("new account should carry the external password marker")
	}
	if _, ok := store.linkages[linkKey{res.AccountID, db.ProviderSpotify}]; !ok {
		t.Error("expected a linkage for the new account")
	}
}

func TestResolve_LoginNew_ExistingEmail(t *testing.T) {
	store := newFakeStore()
	existing := store.addUser("ana", "ana@example.com")
	r := newResolver(store, grant("a1"), &spotify.Profile{ID: "sub-1", DisplayName: "Ana", Email: "ana@example.com"})

	res, err := r.Resolve(context.Background(), Callback{Code: "code"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if res.AccountID != existing.ID {
		t.Errorf("AccountID = %d, want existing %d", res.AccountID, existing.ID)
	}
	if len(store.users) != 1 {
		t.Errorf("users = %d, want 1", len(store.users))
	}
	if _, ok := store.linkages[linkKey{existing.ID, db.ProviderSpotify}]; !ok {
		t.Error("expected the existing account to be linked")
	}
}

func TestResolve_LoginNew_UsernameCollision(t *testing.T) {
	store := newFakeStore()
	store.addUser("ana_maria", "other@example.com")

	suffixes := []string{"a1b2", "c3d4"}
	r := newResolver(store, grant("a1"), &spotify.Profile{ID: "sub-1", DisplayName: "Ana Maria", Email: "ana@example.com"},
		WithSuffix(func() string {
			s := suffixes[0]
			suffixes = suffixes[1:]
			return s
		}))

	res, err := r.Resolve(context.Background(), Callback{Code: "code"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := store.users[res.AccountID].Username; got != "ana_maria_a1b2" {
		t.Errorf("Username = %q, want ana_maria_a1b2", got)
	}
}

func TestResolve_LoginNew_GivesUpAfterAttempts(t *testing.T) {
	store := newFakeStore()
	store.addUser("ana", "other@example.com")
	store.addUser("ana_dupe", "other2@example.com")

	r := newResolver(store, grant("a1"), &spotify.Profile{ID: "sub-1", DisplayName: "Ana", Email: "ana@example.com"},
		WithSuffix(func() string { return "dupe" }))

	_, err := r.Resolve(context.Background(), Callback{Code: "code"})
	if !errors.Is(err, db.ErrUsernameTaken) {
		t.Errorf("error = %v, want ErrUsernameTaken", err)
	}
	if len(store.linkages) != 0 {
		t.Errorf("linkages = %d, want 0", len(store.linkages))
	}
}

func TestResolve_LoginExisting_Idempotent(t *testing.T) {
	store := newFakeStore()
	user := store.addUser("ana", "ana@example.com")
	store.linkages[linkKey{user.ID, db.ProviderSpotify}] = &db.Linkage{
		UserID:         user.ID,
		Provider:       db.ProviderSpotify,
		ProviderUserID: "sub-1",
		AccessToken:    "old",
	}
	profile := &spotify.Profile{ID: "sub-1", DisplayName: "Ana", Email: "ana@example.com"}

	for _, access := range []string{"first", "second"} {
		r := newResolver(store, grant(access), profile)
		res, err := r.Resolve(context.Background(), Callback{Code: "code-" + access})
		if err != nil {
			t.Fatalf("Resolve(%s) error = %v", access, err)
		}
		if res.Outcome != OutcomeLogin || res.AccountID != user.ID {
			t.Errorf("Resolve(%s) = %+v", access, res)
		}
	}

	if len(store.users) != 1 {
		t.Errorf("users = %d, want 1", len(store.users))
	}
	if len(store.linkages) != 1 {
		t.Errorf("linkages = %d, want 1", len(store.linkages))
	}
	link := store.linkages[linkKey{user.ID, db.ProviderSpotify}]
	if link.AccessToken != "second" || link.RefreshToken != "refresh-second" {
		t.Errorf("tokens = %q/%q, want the latest pair", link.AccessToken, link.RefreshToken)
	}
	if store.logins[user.ID] != 2 {
		t.Errorf("logins recorded = %d, want 2", store.logins[user.ID])
	}
}

func TestResolve_Link(t *testing.T) {
	tests := []struct {
		name     string
		existing bool
	}{
		{"no prior linkage", false},
		{"replaces prior linkage", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			user := store.addUser("ana", "ana@example.com")
			store.linkages[linkKey{user.ID, "other-provider"}] = &db.Linkage{UserID: user.ID, Provider: "other-provider", ProviderUserID: "x"}
			if tt.existing {
				store.linkages[linkKey{user.ID, db.ProviderSpotify}] = &db.Linkage{
					UserID: user.ID, Provider: db.ProviderSpotify, ProviderUserID: "sub-1", AccessToken: "old", RefreshToken: "old-refresh",
				}
			}

			r := newResolver(store, grant("new"), &spotify.Profile{ID: "sub-1"})
			res, err := r.Resolve(context.Background(), Callback{Code: "code", SessionUserID: userID(user.ID)})
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}

			if res.Outcome != OutcomeLinked {
				t.Errorf("Outcome = %q, want linked", res.Outcome)
			}
			if res.SessionToken != "" {
				t.Error("link should not issue a session")
			}

			count := 0
			for k := range store.linkages {
				if k.userID == user.ID && k.provider == db.ProviderSpotify {
					count++
				}
			}
			if count != 1 {
				t.Errorf("spotify linkages = %d, want 1", count)
			}
			link := store.linkages[linkKey{user.ID, db.ProviderSpotify}]
			if link.AccessToken != "new" || link.RefreshToken != "refresh-new" {
				t.Errorf("tokens = %q/%q, want replaced wholesale", link.AccessToken, link.RefreshToken)
			}
			if _, ok := store.linkages[linkKey{user.ID, "other-provider"}]; !ok {
				t.Error("other provider linkage should be untouched")
			}
		})
	}
}

func TestResolve_Link_SubjectOwnedElsewhere(t *testing.T) {
	store := newFakeStore()
	owner := store.addUser("owner", "owner@example.com")
	other := store.addUser("other", "other@example.com")
	store.linkages[linkKey{owner.ID, db.ProviderSpotify}] = &db.Linkage{UserID: owner.ID, Provider: db.ProviderSpotify, ProviderUserID: "sub-1"}

	r := newResolver(store, grant("a"), &spotify.Profile{ID: "sub-1"})
	_, err := r.Resolve(context.Background(), Callback{Code: "code", SessionUserID: userID(other.ID)})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("error = %v, want ErrConflict", err)
	}
}

func TestResolve_AbortsBeforeWrites(t *testing.T) {
	tests := []struct {
		name      string
		exchanger *fakeExchanger
		profiles  *fakeProfiles
		wantErr   error
	}{
		{
			name:      "invalid grant",
			exchanger: &fakeExchanger{err: fmt.Errorf("exchanging code: %w", apperr.ErrInvalidGrant)},
			profiles:  &fakeProfiles{profile: &spotify.Profile{ID: "sub-1"}},
			wantErr:   apperr.ErrInvalidGrant,
		},
		{
			name:      "profile timeout",
			exchanger: &fakeExchanger{grant: grant("a")},
			profiles:  &fakeProfiles{err: fmt.Errorf("getting current user: %w", apperr.ErrUpstreamTimeout)},
			wantErr:   apperr.ErrUpstreamTimeout,
		},
		{
			name:      "empty subject",
			exchanger: &fakeExchanger{grant: grant("a")},
			profiles:  &fakeProfiles{profile: &spotify.Profile{}},
			wantErr:   apperr.ErrUpstream,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			r := New(tt.exchanger, tt.profiles, store, fakeIssuer{})

			_, err := r.Resolve(context.Background(), Callback{Code: "code"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if store.writes != 0 {
				t.Errorf("writes = %d, want 0", store.writes)
			}
		})
	}
}

func TestUsername(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		subject     string
		want        string
	}{
		{"simple", "Ana", "sub", "ana"},
		{"collapses whitespace", "  Ana \t Maria  Lopez ", "sub", "ana_maria_lopez"},
		{"empty falls back", "", "abc123", "sp_abc123"},
		{"blank falls back", "   ", "abc123", "sp_abc123"},
		{"capped", strings.Repeat("a", 40), "sub", strings.Repeat("a", 30)},
		{"multibyte kept whole", strings.Repeat("a", 29) + "é", "sub", strings.Repeat("a", 29)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Username(tt.displayName, tt.subject); got != tt.want {
				t.Errorf("Username() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithSuffix_StaysWithinCap(t *testing.T) {
	got := withSuffix(strings.Repeat("b", 30), "beef")
	if len(got) != maxUsernameLen {
		t.Errorf("len = %d, want %d", len(got), maxUsernameLen)
	}
	if !strings.HasSuffix(got, "_beef") {
		t.Errorf("got %q, want _beef suffix", got)
	}
}

func TestRedirectURL(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		err  error
		want string
	}{
		{"linked", &Result{Outcome: OutcomeLinked}, nil, "http://app.test/analyze?linked=ok"},
		{"login", &Result{Outcome: OutcomeLogin}, nil, "http://app.test/analyze?login=spotify"},
		{"invalid grant", nil, apperr.ErrInvalidGrant, "http://app.test/analyze?error=invalid_grant"},
		{"unknown", nil, errors.New("boom"), "http://app.test/analyze?error=internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedirectURL("http://app.test/", tt.res, tt.err); got != tt.want {
				t.Errorf("RedirectURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
