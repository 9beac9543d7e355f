// Package history reads past recommendation sessions and emotion analyses
// and resolves their stored track references back into catalog tracks.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/logging"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

const (
	defaultSessionLimit  = 20
	maxSessionLimit      = 50
	defaultAnalysisLimit = 5
	maxAnalysisLimit     = 20

	// playlistPreview is how many tracks are shown for a playlist reference.
	playlistPreview = 10

	summaryWindow = 7 * 24 * time.Hour
)

// Catalog resolves stored references into tracks.
type Catalog interface {
	Tracks(ctx context.Context, ids []string) ([]spotify.Track, error)
	PlaylistTracks(ctx context.Context, playlistID, market string, limit int) ([]spotify.Track, error)
}

// Store is the persistence the reader needs.
type Store interface {
	ListSessions(ctx context.Context, userID int64, limit, offset int) ([]db.RecommendationSession, error)
	DominantEmotion(ctx context.Context, userID int64, since time.Time) (*db.EmotionCount, error)
	ListAnalyses(ctx context.Context, userID int64, limit int) ([]db.Analysis, error)
}

// SessionSummary is a recommendation session with resolved tracks.
type SessionSummary struct {
	ID         string          `json:"id"`
	Emotion    string          `json:"emotion"`
	Confidence *float64        `json:"confidence"`
	Tracks     []spotify.Track `json:"tracks"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// AnalysisEntry is an emotion analysis with resolved tracks.
type AnalysisEntry struct {
	ID          int64           `json:"id"`
	Emotion     string          `json:"emotion"`
	Confidence  float64         `json:"confidence"`
	PlaylistID  string          `json:"playlistId,omitempty"`
	PlaylistURL string          `json:"playlistUrl,omitempty"`
	Tracks      []spotify.Track `json:"tracks"`
	AnalyzedAt  time.Time       `json:"analyzedAt"`
}

// WeeklySummary is the most frequent emotion over the trailing week.
type WeeklySummary struct {
	Emotion *string `json:"emotion"`
	Count   int     `json:"count"`
}

// Reader serves history listings.
type Reader struct {
	catalog Catalog
	store   Store
	market  string
	logger  *log.Logger
	now     func() time.Time
}

// Option configures a Reader.
type Option func(*Reader)

// WithMarket sets the market used for playlist lookups.
func WithMarket(market string) Option {
	return func(r *Reader) {
		r.market = market
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(r *Reader) {
		r.logger = l
	}
}

// WithClock sets the time source for the weekly window.
func WithClock(now func() time.Time) Option {
	return func(r *Reader) {
		r.now = now
	}
}

// New creates a Reader.
func New(catalog Catalog, store Store, opts ...Option) *Reader {
	r := &Reader{
		catalog: catalog,
		store:   store,
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sessions returns one page of the user's recommendation sessions, most
// recent first. page starts at 1; limit is bounded to 1..50.
func (r *Reader) Sessions(ctx context.Context, userID int64, page, limit int) ([]SessionSummary, error) {
	page = max(page, 1)
	limit = clamp(limit, defaultSessionLimit, maxSessionLimit)

	rows, err := r.store.ListSessions(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	out := make([]SessionSummary, 0, len(rows))
	for _, s := range rows {
		tracks, err := r.resolve(ctx, "session", s.ID.String(), func(ctx context.Context) ([]spotify.Track, error) {
			return r.catalog.Tracks(ctx, s.Tracks)
		})
		if err != nil {
			return nil, err
		}

		out = append(out, SessionSummary{
			ID:         s.ID.String(),
			Emotion:    s.Emotion,
			Confidence: s.Confidence,
			Tracks:     tracks,
			CreatedAt:  s.CreatedAt,
		})
	}
	return out, nil
}

// Analyses returns the user's latest analyses. limit is bounded to 1..20.
// Entries with a playlist reference show its first tracks; entries with
// track ids resolve them in order.
func (r *Reader) Analyses(ctx context.Context, userID int64, limit int) ([]AnalysisEntry, error) {
	limit = clamp(limit, defaultAnalysisLimit, maxAnalysisLimit)

	rows, err := r.store.ListAnalyses(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}

	out := make([]AnalysisEntry, 0, len(rows))
	for _, a := range rows {
		entry := AnalysisEntry{
			ID:         a.ID,
			Emotion:    a.Emotion,
			Confidence: a.Confidence,
			Tracks:     []spotify.Track{},
			AnalyzedAt: a.AnalyzedAt,
		}
		if a.PlaylistURL != nil {
			entry.PlaylistURL = *a.PlaylistURL
		}

		var lookup func(context.Context) ([]spotify.Track, error)
		switch {
		case a.PlaylistID != nil && *a.PlaylistID != "":
			entry.PlaylistID = *a.PlaylistID
			lookup = func(ctx context.Context) ([]spotify.Track, error) {
				return r.catalog.PlaylistTracks(ctx, *a.PlaylistID, r.market, playlistPreview)
			}
		case len(a.TrackIDs) > 0:
			lookup = func(ctx context.Context) ([]spotify.Track, error) {
				return r.catalog.Tracks(ctx, a.TrackIDs)
			}
		}

		if lookup != nil {
			tracks, err := r.resolve(ctx, "analysis", fmt.Sprint(a.ID), lookup)
			if err != nil {
				return nil, err
			}
			entry.Tracks = tracks
		}
		out = append(out, entry)
	}
	return out, nil
}

// WeeklySummary returns the most frequent emotion in the user's sessions
// over the last 7 days.
func (r *Reader) WeeklySummary(ctx context.Context, userID int64) (*WeeklySummary, error) {
	ec, err := r.store.DominantEmotion(ctx, userID, r.now().Add(-summaryWindow))
	if err != nil {
		return nil, fmt.Errorf("computing weekly summary: %w", err)
	}
	if ec == nil {
		return &WeeklySummary{}, nil
	}
	emotion := ec.Emotion
	return &WeeklySummary{Emotion: &emotion, Count: ec.Count}, nil
}

// resolve runs one per-entry lookup. A failure leaves that entry with no
// tracks, except a rejected app credential, which fails the whole listing.
func (r *Reader) resolve(ctx context.Context, kind, id string, lookup func(context.Context) ([]spotify.Track, error)) ([]spotify.Track, error) {
	tracks, err := lookup(ctx)
	if err == nil {
		return tracks, nil
	}
	if errors.Is(err, apperr.ErrUpstreamAuth) {
		return nil, fmt.Errorf("resolving %s %s: %w", kind, id, err)
	}

	r.logger.Warn("resolving tracks failed", kind, id, "err", err)
	return []spotify.Track{}, nil
}

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	return min(v, hi)
}
