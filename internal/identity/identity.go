// Package identity resolves a provider callback into a linked, logged-in, or
// newly provisioned local account.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
	"github.com/justestif/go-spotify-mood-recommender/internal/auth"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/logging"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

const (
	maxUsernameLen      = 30
	maxUsernameAttempts = 5
	placeholderDomain   = "spotify.local"
)

// Outcome tags the result of a callback.
type Outcome string

const (
	OutcomeLinked Outcome = "linked"
	OutcomeLogin  Outcome = "login"
	OutcomeError  Outcome = "error"
)

// CodeExchanger exchanges an authorization code for a user grant.
type CodeExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*auth.Grant, error)
}

// ProfileFetcher fetches the provider profile owning a user token.
type ProfileFetcher interface {
	Profile(ctx context.Context, tok *oauth2.Token) (*spotify.Profile, error)
}

// Store is the persistence the resolver needs.
type Store interface {
	UpsertLinkage(ctx context.Context, link *db.Linkage) error
	FindLinkageBySubject(ctx context.Context, provider, subject string) (*db.Linkage, error)
	UpdateLinkageTokens(ctx context.Context, provider, subject string, tok db.Tokens) error
	GetUser(ctx context.Context, id int64) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	ProvisionUser(ctx context.Context, nu db.NewUser, link *db.Linkage) (*db.User, error)
	TouchLogin(ctx context.Context, userID int64) error
}

// SessionIssuer signs local session credentials.
type SessionIssuer interface {
	Issue(userID int64, email, username string) (string, error)
}

// Callback is the input of a resolution.
type Callback struct {
	Code string

	// SessionUserID is the account of an already logged-in caller, if any.
	SessionUserID *int64
}

// Result is the outcome of a successful resolution. SessionToken is set only
// for OutcomeLogin.
type Result struct {
	Outcome      Outcome
	AccountID    int64
	SessionToken string
}

// Resolver runs the link / login-existing / login-new state machine.
type Resolver struct {
	exchanger CodeExchanger
	profiles  ProfileFetcher
	store     Store
	issuer    SessionIssuer
	logger    *log.Logger
	suffix    func() string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithSuffix sets the generator used to disambiguate colliding usernames.
func WithSuffix(fn func() string) Option {
	return func(r *Resolver) {
		r.suffix = fn
	}
}

// New creates a Resolver.
func New(exchanger CodeExchanger, profiles ProfileFetcher, store Store, issuer SessionIssuer, opts ...Option) *Resolver {
	r := &Resolver{
		exchanger: exchanger,
		profiles:  profiles,
		store:     store,
		issuer:    issuer,
		logger:    logging.Discard(),
		suffix:    randomSuffix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve exchanges the code, fetches the profile, and then links, logs in,
// or provisions. Exchange and profile failures abort before any write.
func (r *Resolver) Resolve(ctx context.Context, cb Callback) (*Result, error) {
	grant, err := r.exchanger.ExchangeCode(ctx, cb.Code)
	if err != nil {
		return nil, err
	}

	profile, err := r.profiles.Profile(ctx, grant.Token())
	if err != nil {
		return nil, err
	}
	if profile.ID == "" {
		return nil, fmt.Errorf("fetching profile: %w: empty subject id", apperr.ErrUpstream)
	}

	link := &db.Linkage{
		Provider:       db.ProviderSpotify,
		ProviderUserID: profile.ID,
		AccessToken:    grant.AccessToken,
		RefreshToken:   grant.RefreshToken,
		Scope:          grant.Scope,
		ExpiresAt:      grant.Expiry,
	}

	if cb.SessionUserID != nil {
		return r.link(ctx, *cb.SessionUserID, link)
	}

	existing, err := r.store.FindLinkageBySubject(ctx, db.ProviderSpotify, profile.ID)
	switch {
	case err == nil:
		return r.loginExisting(ctx, existing, grant)
	case errors.Is(err, apperr.ErrNotFound):
		return r.loginNew(ctx, profile, link)
	default:
		return nil, fmt.Errorf("looking up linkage: %w", err)
	}
}

func (r *Resolver) link(ctx context.Context, userID int64, link *db.Linkage) (*Result, error) {
	link.UserID = userID
	if err := r.store.UpsertLinkage(ctx, link); err != nil {
		return nil, fmt.Errorf("linking account: %w", err)
	}

	r.logger.Info("linked provider account", "user", userID, "subject", link.ProviderUserID)
	return &Result{Outcome: OutcomeLinked, AccountID: userID}, nil
}

func (r *Resolver) loginExisting(ctx context.Context, existing *db.Linkage, grant *auth.Grant) (*Result, error) {
	tokens := db.Tokens{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		Scope:        grant.Scope,
		ExpiresAt:    grant.Expiry,
	}
	if err := r.store.UpdateLinkageTokens(ctx, existing.Provider, existing.ProviderUserID, tokens); err != nil {
		return nil, fmt.Errorf("updating linkage tokens: %w", err)
	}

	user, err := r.store.GetUser(ctx, existing.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading linked account: %w", err)
	}

	r.logger.Info("login with linked account", "user", user.ID)
	return r.issue(ctx, user)
}

func (r *Resolver) loginNew(ctx context.Context, profile *spotify.Profile, link *db.Linkage) (*Result, error) {
	if profile.Email != "" {
		user, err := r.store.GetUserByEmail(ctx, profile.Email)
		switch {
		case err == nil:
			link.UserID = user.ID
			if err := r.store.UpsertLinkage(ctx, link); err != nil {
				return nil, fmt.Errorf("linking account by email: %w", err)
			}
			r.logger.Info("linked provider account by email", "user", user.ID)
			return r.issue(ctx, user)
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, fmt.Errorf("looking up account by email: %w", err)
		}
	}

	email := profile.Email
	if email == "" {
		email = PlaceholderEmail(profile.ID)
	}

	base := Username(profile.DisplayName, profile.ID)
	username := base
	for attempt := 1; ; attempt++ {
		user, err := r.store.ProvisionUser(ctx, db.NewUser{
			Username:    username,
			Email:       email,
			DisplayName: profile.DisplayName,
		}, link)
		if err == nil {
			r.logger.Info("provisioned account", "user", user.ID, "username", user.Username)
			return r.issue(ctx, user)
		}
		if !errors.Is(err, db.ErrUsernameTaken) || attempt == maxUsernameAttempts {
			return nil, fmt.Errorf("provisioning account: %w", err)
		}

		r.logger.Debug("username taken, retrying", "username", username, "attempt", attempt)
		username = withSuffix(base, r.suffix())
	}
}

// issue signs a session for user. Recording the login time is best-effort.
func (r *Resolver) issue(ctx context.Context, user *db.User) (*Result, error) {
	if err := r.store.TouchLogin(ctx, user.ID); err != nil {
		r.logger.Warn("recording login time failed", "user", user.ID, "err", err)
	}

	token, err := r.issuer.Issue(user.ID, user.Email, user.Username)
	if err != nil {
		return nil, fmt.Errorf("issuing session: %w", err)
	}
	return &Result{Outcome: OutcomeLogin, AccountID: user.ID, SessionToken: token}, nil
}

// Username derives a username from a display name: lower-cased, whitespace
// collapsed to "_", and capped at 30 characters. An empty result falls back
// to "sp_" plus the subject id.
func Username(displayName, subject string) string {
	name := strings.Join(strings.Fields(strings.ToLower(displayName)), "_")
	if name == "" {
		name = "sp_" + subject
	}
	return truncate(name, maxUsernameLen)
}

// PlaceholderEmail is used when the provider withholds the profile email.
func PlaceholderEmail(subject string) string {
	return subject + "@" + placeholderDomain
}

// RedirectURL builds the frontend redirect for a resolution outcome.
func RedirectURL(frontend string, res *Result, err error) string {
	q := url.Values{}
	switch {
	case err != nil:
		q.Set("error", apperr.Tag(err))
	case res.Outcome == OutcomeLinked:
		q.Set("linked", "ok")
	default:
		q.Set("login", "spotify")
	}
	return strings.TrimRight(frontend, "/") + "/analyze?" + q.Encode()
}

func withSuffix(base, suffix string) string {
	return truncate(base, maxUsernameLen-len(suffix)-1) + "_" + suffix
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func randomSuffix() string {
	b := make([]byte, 2)
	if _, err := rand.Read(b); err != nil {
		return "0000"
	}
	return hex.EncodeToString(b)
}
