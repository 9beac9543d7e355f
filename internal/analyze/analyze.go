// Package analyze turns an uploaded photo into recommendations: the dominant
// facial emotion is detected, recorded for signed-in users, and used to seed
// a recommendation session.
package analyze

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/emotion"
	"github.com/justestif/go-spotify-mood-recommender/internal/logging"
	"github.com/justestif/go-spotify-mood-recommender/internal/recommend"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

// MaxImageBytes is the largest photo accepted.
const MaxImageBytes = 5 << 20

// Classifier detects the dominant emotion in an image.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (*emotion.Detection, error)
}

// Recommender generates and persists recommendations.
type Recommender interface {
	Generate(ctx context.Context, req recommend.Request) (*recommend.Generation, error)
	PersistSession(ctx context.Context, userID *int64, emotion string, confidence *float64, tracks []spotify.Track, seeds []string) (*db.RecommendationSession, error)
}

// Store records analyses.
type Store interface {
	RecordAnalysis(ctx context.Context, a *db.Analysis) error
}

// Result is the outcome of one analysis. Emotion is nil when no face was found.
type Result struct {
	Emotion    *string         `json:"emotion"`
	Confidence *float64        `json:"confidence"`
	Tracks     []spotify.Track `json:"tracks"`
}

// Analyzer runs the photo-to-recommendations flow.
type Analyzer struct {
	classifier  Classifier
	recommender Recommender
	store       Store
	logger      *log.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// New creates an Analyzer.
func New(classifier Classifier, recommender Recommender, store Store, opts ...Option) *Analyzer {
	a := &Analyzer{
		classifier:  classifier,
		recommender: recommender,
		store:       store,
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze classifies image and, when a face is found, returns recommendations
// for its dominant emotion. userID may be nil for anonymous callers.
func (a *Analyzer) Analyze(ctx context.Context, userID *int64, image []byte, count int) (*Result, error) {
	if len(image) > MaxImageBytes {
		return nil, fmt.Errorf("analyzing image: %w", apperr.ErrPayloadTooLarge)
	}

	det, err := a.classifier.Classify(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("analyzing image: %w", err)
	}
	if det == nil {
		a.logger.Debug("no face detected")
		return &Result{Tracks: []spotify.Track{}}, nil
	}

	label := recommend.Normalize(det.Label)
	confidence := emotion.NormalizeConfidence(det.Confidence)

	gen, genErr := a.recommender.Generate(ctx, recommend.Request{
		UserID:  userID,
		Emotion: label,
		Count:   count,
	})
	if userID != nil {
		var tracks []spotify.Track
		if genErr == nil {
			tracks = gen.Tracks
		}
		a.record(ctx, *userID, label, confidence, tracks)
	}
	if genErr != nil {
		return nil, fmt.Errorf("analyzing image: %w", genErr)
	}

	if _, err := a.recommender.PersistSession(ctx, userID, label, &confidence, gen.Tracks, gen.Seeds); err != nil {
		return nil, fmt.Errorf("analyzing image: %w", err)
	}

	a.logger.Info("analyzed image", "emotion", label, "confidence", confidence, "tracks", len(gen.Tracks))
	return &Result{
		Emotion:    &label,
		Confidence: &confidence,
		Tracks:     gen.Tracks,
	}, nil
}

// record stores the detection in the user's analysis log. The analysis is
// kept even when generation failed, with no tracks.
func (a *Analyzer) record(ctx context.Context, userID int64, label string, confidence float64, tracks []spotify.Track) {
	entry := &db.Analysis{
		UserID:     userID,
		Emotion:    label,
		Confidence: confidence,
		TrackIDs:   trackIDs(tracks),
	}
	if err := a.store.RecordAnalysis(ctx, entry); err != nil {
		a.logger.Warn("recording analysis failed", "user", userID, "emotion", label, "err", err)
	}
}

func trackIDs(tracks []spotify.Track) []string {
	ids := make([]string, 0, len(tracks))
	for _, t := range tracks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids
}
