// Package auth manages the provider credential lifecycle: app-level tokens,
// authorization-code exchange, and refresh-token exchange.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
)

const (
	// expiryMargin is subtracted from the provider's stated token lifetime so
	// a token never expires in the middle of a request.
	expiryMargin = 5 * time.Minute

	defaultTimeout = 10 * time.Second
)

// ErrMissingCredentials is returned when the client id or secret is empty.
var ErrMissingCredentials = errors.New("missing client id or client secret")

// Grant is the result of a user-scoped exchange.
type Grant struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	Expiry       time.Time
}

// Token returns the grant as an oauth2 token.
func (g *Grant) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  g.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: g.RefreshToken,
		Expiry:       g.Expiry,
	}
}

// Manager exchanges credentials against the provider's authorization server.
type Manager struct {
	user       *oauth2.Config
	app        *clientcredentials.Config
	httpClient *http.Client
	timeout    time.Duration
	cache      *AppTokenCache
	now        func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithEndpoint overrides the provider's authorize and token URLs.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(m *Manager) {
		m.user.Endpoint.AuthURL = authURL
		m.user.Endpoint.TokenURL = tokenURL
		m.app.TokenURL = tokenURL
	}
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = c
	}
}

// WithTimeout bounds each token request.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithClock sets the time source used to stamp expiries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a Manager for the given client identity and redirect URL.
// Returns ErrMissingCredentials if either credential is empty.
func New(clientID, clientSecret, redirectURL string, opts ...Option) (*Manager, error) {
	if clientID == "" || clientSecret == "" {
		return nil, ErrMissingCredentials
	}

	endpoint := oauth2.Endpoint{
		AuthURL:   spotifyauth.AuthURL,
		TokenURL:  spotifyauth.TokenURL,
		AuthStyle: oauth2.AuthStyleInHeader,
	}

	m := &Manager{
		user: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     endpoint,
			Scopes: []string{
				spotifyauth.ScopeUserReadEmail,
				spotifyauth.ScopePlaylistModifyPublic,
				spotifyauth.ScopePlaylistModifyPrivate,
			},
		},
		app: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     endpoint.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.cache = NewAppTokenCache(m.fetchAppToken, m.now)
	return m, nil
}

// AuthURL returns the consent URL the user is redirected to.
func (m *Manager) AuthURL(state string) string {
	return m.user.AuthCodeURL(state)
}

// AppToken returns an app-level bearer token for public catalog reads,
// reusing a cached token until shortly before it expires.
func (m *Manager) AppToken(ctx context.Context) (*oauth2.Token, error) {
	return m.cache.Token(ctx)
}

// InvalidateAppToken drops the cached app token so the next call fetches a new one.
func (m *Manager) InvalidateAppToken() {
	m.cache.Invalidate()
}

func (m *Manager) fetchAppToken(ctx context.Context) (*oauth2.Token, error) {
	ctx, cancel := m.requestContext(ctx)
	defer cancel()

	tok, err := m.app.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring app token: %w", classify(err))
	}
	m.stampExpiry(tok)
	return tok, nil
}

// ExchangeCode exchanges a one-time authorization code for a user grant.
// An expired, reused, or malformed code yields apperr.ErrInvalidGrant.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	if code == "" {
		return nil, fmt.Errorf("exchanging code: %w: empty code", apperr.ErrInvalidGrant)
	}

	ctx, cancel := m.requestContext(ctx)
	defer cancel()

	tok, err := m.user.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging code: %w", classify(err))
	}
	return m.grant(tok), nil
}

// RefreshUserToken exchanges a refresh token for a new access token.
// The provider may omit a new refresh token, in which case the old one is kept.
func (m *Manager) RefreshUserToken(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refreshing token: %w: empty refresh token", apperr.ErrInvalidGrant)
	}

	ctx, cancel := m.requestContext(ctx)
	defer cancel()

	src := m.user.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", classify(err))
	}
	return m.grant(tok), nil
}

func (m *Manager) grant(tok *oauth2.Token) *Grant {
	m.stampExpiry(tok)
	scope, _ := tok.Extra("scope").(string)
	return &Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
		Expiry:       tok.Expiry,
	}
}

func (m *Manager) stampExpiry(tok *oauth2.Token) {
	if tok.Expiry.IsZero() {
		return
	}
	tok.Expiry = tok.Expiry.Add(-expiryMargin)
}

func (m *Manager) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	return context.WithTimeout(ctx, m.timeout)
}

// classify maps a token endpoint failure onto the error taxonomy.
func classify(err error) error {
	if apperr.IsTimeout(err) {
		return fmt.Errorf("%w: %w", apperr.ErrUpstreamTimeout, err)
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		switch {
		case re.ErrorCode == "invalid_grant":
			return fmt.Errorf("%w: %w", apperr.ErrInvalidGrant, err)
		case re.ErrorCode == "invalid_client",
			re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized:
			return fmt.Errorf("%w: %w", apperr.ErrUpstreamAuth, err)
		}
	}
	return fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
}

// GenerateState creates a random state string for the consent redirect.
func GenerateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
