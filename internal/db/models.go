package db

import (
	"time"

	"github.com/google/uuid"
)

// ProviderSpotify is the provider name stored on linkages.
const ProviderSpotify = "spotify"

// ExternalPasswordMarker is stored as the password hash of accounts that
// were created through a provider login and have no local password.
const ExternalPasswordMarker = "spotify_oauth"

// User is a local account.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	DisplayName  *string // nullable
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLogin    *time.Time // nullable
}

// ExternallyAuthenticated reports whether the account has no local password.
func (u *User) ExternallyAuthenticated() bool {
	return u.PasswordHash == ExternalPasswordMarker
}

// NewUser holds the fields needed to provision an account.
type NewUser struct {
	Username    string
	Email       string
	DisplayName string
}

// ProfileUpdate holds the account fields a user may change. Nil fields are
// left untouched.
type ProfileUpdate struct {
	Username *string
	Email    *string
}

// Linkage relates a local account to one provider identity.
type Linkage struct {
	UserID         int64
	Provider       string
	ProviderUserID string
	AccessToken    string
	RefreshToken   string
	Scope          string
	ExpiresAt      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Tokens is the credential part of a linkage, always replaced as a whole.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    time.Time
}

// RecommendationSession is one completed recommendation generation.
type RecommendationSession struct {
	ID         uuid.UUID
	UserID     *int64 // nil for anonymous sessions
	Emotion    string
	Confidence *float64 // nullable
	Tracks     []string
	SeedGenres []string
	CreatedAt  time.Time
}

// EmotionCount is the result of the weekly summary aggregate.
type EmotionCount struct {
	Emotion string
	Count   int
}

// Item kinds stored in seen-item memory.
const (
	ItemTrack = "track"
)

// MemoryItem is one (kind, id) pair appended to seen-item memory.
type MemoryItem struct {
	Kind string
	ID   string
}

// Analysis is one completed emotion analysis.
type Analysis struct {
	ID          int64
	UserID      int64
	Emotion     string
	Confidence  float64
	PlaylistID  *string // nullable
	PlaylistURL *string // nullable
	TrackIDs    []string
	AnalyzedAt  time.Time
}

// ErrorLog is one recorded error response.
type ErrorLog struct {
	Method    string
	Path      string
	Status    int
	Message   string
	IP        string
	UserAgent string
}
