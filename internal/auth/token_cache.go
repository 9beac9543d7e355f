package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
)

// FetchFunc retrieves a fresh token.
type FetchFunc func(ctx context.Context) (*oauth2.Token, error)

// AppTokenCache holds one app-level token in memory and refreshes it when it
// expires. Concurrent callers share a single in-flight refresh.
type AppTokenCache struct {
	fetch FetchFunc
	now   func() time.Time

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

// NewAppTokenCache creates a cache backed by fetch.
func NewAppTokenCache(fetch FetchFunc, now func() time.Time) *AppTokenCache {
	if now == nil {
		now = time.Now
	}
	return &AppTokenCache{fetch: fetch, now: now}
}

// Token returns the cached token if still valid, otherwise fetches a new one.
// Each caller waits only as long as its own context allows; the shared fetch
// is not cancelled when one waiter goes away.
func (c *AppTokenCache) Token(ctx context.Context) (*oauth2.Token, error) {
	if tok := c.cached(); tok != nil {
		return tok, nil
	}

	ch := c.group.DoChan("app", func() (any, error) {
		// Another caller may have refreshed while we waited.
		if tok := c.cached(); tok != nil {
			return tok, nil
		}

		tok, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.token = tok
		c.mu.Unlock()
		return tok, nil
	})

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("waiting for app token: %w: %w", apperr.ErrUpstreamTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("waiting for app token: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

// Invalidate drops the cached token.
func (c *AppTokenCache) Invalidate() {
	c.mu.Lock()
	c.token = nil
	c.mu.Unlock()
}

func (c *AppTokenCache) cached() *oauth2.Token {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == nil || c.token.AccessToken == "" {
		return nil
	}
	if !c.token.Expiry.IsZero() && !c.now().Before(c.token.Expiry) {
		return nil
	}
	return c.token
}
