// Package recommend maps an emotion label to catalog tracks, filtered against
// the user's recently seen items, and records each generated session.
package recommend

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	emo "github.com/justestif/go-spotify-mood-recommender/internal/emotion"
	"github.com/justestif/go-spotify-mood-recommender/internal/logging"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

const (
	// DefaultCount is used when a request does not ask for a count.
	DefaultCount = 20

	// MaxCount is the catalog's page size cap.
	MaxCount = 50

	// MemoryWindow bounds how many recent seen items are read for filtering.
	MemoryWindow = 200

	// maxOffset is the catalog's cap on offset+limit for search.
	maxOffset = 1000
)

// Catalog searches the external catalog.
type Catalog interface {
	SearchTracks(ctx context.Context, query, market string, limit, offset int) ([]spotify.Track, error)
}

// Store is the persistence the engine needs.
type Store interface {
	RecentItemIDs(ctx context.Context, userID int64, emotion, kind string, limit int) ([]string, error)
	CreateSession(ctx context.Context, s *db.RecommendationSession) error
	AppendMemory(ctx context.Context, userID int64, emotion string, items []db.MemoryItem) error
}

// Request is the input of Generate.
type Request struct {
	UserID  *int64 // nil for anonymous callers
	Emotion string
	Count   int
	Market  string // empty uses the engine default
}

// Generation is the result of Generate.
type Generation struct {
	Emotion string // normalized label
	Seeds   []string
	Tracks  []spotify.Track
}

// Engine generates and persists recommendations.
type Engine struct {
	catalog Catalog
	store   Store
	market  string
	offset  func(n int) int
	logger  *log.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMarket sets the default catalog market.
func WithMarket(market string) Option {
	return func(e *Engine) {
		e.market = market
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithOffsetFunc sets the pagination offset source. fn receives the
// exclusive upper bound and must return a value in [0, n).
func WithOffsetFunc(fn func(n int) int) Option {
	return func(e *Engine) {
		e.offset = fn
	}
}

// New creates an Engine.
func New(catalog Catalog, store Store, opts ...Option) *Engine {
	e := &Engine{
		catalog: catalog,
		store:   store,
		offset:  rand.Intn,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ClampCount bounds a requested count to 1..MaxCount, defaulting to DefaultCount.
func ClampCount(count int) int {
	if count <= 0 {
		return DefaultCount
	}
	return min(count, MaxCount)
}

// Generate queries the catalog for the emotion's seeds at a random offset and,
// for a known user, drops tracks they recently saw for that emotion.
func (e *Engine) Generate(ctx context.Context, req Request) (*Generation, error) {
	emotion := Normalize(req.Emotion)
	seeds := Seeds(emotion)
	if !Known(emotion) {
		e.logger.Debug("unknown emotion, using default seeds", "emotion", emotion, "default", DefaultEmotion)
	}
	count := ClampCount(req.Count)

	market := req.Market
	if market == "" {
		market = e.market
	}

	offset := e.offset(maxOffset - count + 1)
	candidates, err := e.catalog.SearchTracks(ctx, query(emotion, seeds), market, count, offset)
	if err != nil {
		return nil, fmt.Errorf("generating recommendations: %w", err)
	}

	tracks := candidates
	if req.UserID != nil && len(candidates) > 0 {
		seen, err := e.store.RecentItemIDs(ctx, *req.UserID, emotion, db.ItemTrack, MemoryWindow)
		if err != nil {
			e.logger.Warn("reading item memory failed, skipping filter", "user", *req.UserID, "emotion", emotion, "err", err)
		} else {
			tracks = FilterSeen(candidates, seen)
		}
	}

	if len(tracks) > count {
		tracks = tracks[:count]
	}

	e.logger.Debug("generated recommendations",
		"emotion", emotion,
		"offset", offset,
		"candidates", len(candidates),
		"tracks", len(tracks),
	)
	return &Generation{Emotion: emotion, Seeds: seeds, Tracks: tracks}, nil
}

// PersistSession writes one session row and, for a known user, appends the
// tracks to their seen-item memory. The memory append is best-effort.
// Confidence is stored in 0..1; percentages are scaled and out-of-range
// values clamped.
func (e *Engine) PersistSession(ctx context.Context, userID *int64, emotion string, confidence *float64, tracks []spotify.Track, seeds []string) (*db.RecommendationSession, error) {
	emotion = Normalize(emotion)
	if confidence != nil {
		c := emo.NormalizeConfidence(*confidence)
		confidence = &c
	}

	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}

	s := &db.RecommendationSession{
		UserID:     userID,
		Emotion:    emotion,
		Confidence: confidence,
		Tracks:     ids,
		SeedGenres: seeds,
	}
	if err := e.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting recommendation session: %w", err)
	}

	if userID != nil && len(ids) > 0 {
		items := make([]db.MemoryItem, len(ids))
		for i, id := range ids {
			items[i] = db.MemoryItem{Kind: db.ItemTrack, ID: id}
		}
		if err := e.store.AppendMemory(ctx, *userID, emotion, items); err != nil {
			e.logger.Warn("appending item memory failed", "user", *userID, "emotion", emotion, "err", err)
		}
	}

	return s, nil
}

// Recommend generates tracks and persists the session.
func (e *Engine) Recommend(ctx context.Context, req Request, confidence *float64) (*Generation, error) {
	gen, err := e.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if _, err := e.PersistSession(ctx, req.UserID, gen.Emotion, confidence, gen.Tracks, gen.Seeds); err != nil {
		return nil, err
	}
	return gen, nil
}
