// Package spotify provides a wrapper around the Spotify Web API.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
)

const defaultTimeout = 10 * time.Second

// TokenSource supplies app-level bearer tokens.
type TokenSource interface {
	AppToken(ctx context.Context) (*oauth2.Token, error)
}

// invalidator is implemented by token sources that cache.
type invalidator interface {
	InvalidateAppToken()
}

// Client wraps the Spotify API client with convenience methods.
type Client struct {
	tokens     TokenSource
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different Web API root.
// The URL must end with a slash.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = u
	}
}

// WithHTTPClient sets the base HTTP client. Its transport is wrapped to add
// the bearer token.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout bounds each outbound call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit caps outbound requests per second. Zero disables the limit.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), max(1, int(perSecond)))
	}
}

// New creates a new Spotify client wrapper that authenticates catalog reads
// with app tokens from tokens.
func New(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		tokens:     tokens,
		httpClient: http.DefaultClient,
		timeout:    defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// api builds a Web API client that sends tok on every request.
func (c *Client) api(tok *oauth2.Token) *spotify.Client {
	hc := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(tok),
			Base:   c.httpClient.Transport,
		},
		Timeout: c.httpClient.Timeout,
	}

	var opts []spotify.ClientOption
	if c.baseURL != "" {
		opts = append(opts, spotify.WithBaseURL(c.baseURL))
	}
	return spotify.New(hc, opts...)
}

// appClient waits for the rate limiter and returns a client carrying an app token.
func (c *Client) appClient(ctx context.Context) (*spotify.Client, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	tok, err := c.tokens.AppToken(ctx)
	if err != nil {
		return nil, err
	}
	return c.api(tok), nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		// Wait fails early, without DeadlineExceeded, when the next slot
		// lies past the deadline.
		if _, ok := ctx.Deadline(); ok && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("waiting for rate limiter: %w: %w", apperr.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("waiting for rate limiter: %w", c.classify(err))
	}
	return nil
}

// Profile returns the profile of the user who owns tok.
func (c *Client) Profile(ctx context.Context, tok *oauth2.Token) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	user, err := c.api(tok).CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting current user: %w", classifyUser(err))
	}
	return &Profile{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
	}, nil
}

// classify maps a catalog failure onto the error taxonomy. A rejected app
// token is dropped from the cache so the next call fetches a new one.
func (c *Client) classify(err error) error {
	mapped := classifyUser(err)
	if errors.Is(mapped, apperr.ErrUpstreamAuth) {
		if inv, ok := c.tokens.(invalidator); ok {
			inv.InvalidateAppToken()
		}
	}
	return mapped
}

func classifyUser(err error) error {
	if apperr.IsTimeout(err) {
		return fmt.Errorf("%w: %w", apperr.ErrUpstreamTimeout, err)
	}

	status := 0
	var e spotify.Error
	var pe *spotify.Error
	switch {
	case errors.As(err, &e):
		status = e.Status
	case errors.As(err, &pe):
		status = pe.Status
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", apperr.ErrUpstreamAuth, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", apperr.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %w", apperr.ErrUpstream, err)
}
