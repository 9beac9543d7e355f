// Package account manages local credentials: email and password
// registration, password login, profile edits, and password changes for
// both local and provider-provisioned accounts.
package account

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/justestif/go-spotify-mood-recommender/internal/apperr"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/logging"
)

const (
	// MinPasswordLen is the shortest password accepted.
	MinPasswordLen = 8

	// DefaultCost is the bcrypt work factor for new hashes.
	DefaultCost = 12

	maxUsernameLen      = 30
	maxUsernameAttempts = 5
)

// ErrInvalidCredentials is returned by Login for an unknown email, a wrong
// password, or an account with no local password.
var ErrInvalidCredentials = fmt.Errorf("invalid email or password: %w", apperr.ErrUnauthorized)

// Store is the persistence the service needs.
type Store interface {
	GetUser(ctx context.Context, id int64) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	CreateUser(ctx context.Context, nu db.NewUser, passwordHash string) (*db.User, error)
	UpdateProfile(ctx context.Context, id int64, upd db.ProfileUpdate) (*db.User, error)
	SetPasswordHash(ctx context.Context, id int64, hash string) error
	TouchLogin(ctx context.Context, userID int64) error
}

// SessionIssuer signs local session credentials.
type SessionIssuer interface {
	Issue(userID int64, email, username string) (string, error)
}

// User is the caller-facing view of an account. It never carries the hash.
type User struct {
	ID          int64      `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	DisplayName *string    `json:"displayName"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLogin   *time.Time `json:"lastLogin"`
}

func view(u *db.User) User {
	return User{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
		LastLogin:   u.LastLogin,
	}
}

// Session is a signed-in account and its session token.
type Session struct {
	User  User
	Token string
}

// Registration is the input of Register. Username is optional and derived
// from the email when empty.
type Registration struct {
	Email    string
	Password string
	Username string
}

// ProfileChange is the input of UpdateProfile. Nil or blank fields are
// ignored.
type ProfileChange struct {
	Username *string
	Email    *string
}

// Service runs the local account flows.
type Service struct {
	store  Store
	issuer SessionIssuer
	logger *log.Logger
	cost   int
	suffix func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithCost sets the bcrypt work factor.
func WithCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

// WithSuffix sets the generator used to disambiguate derived usernames.
func WithSuffix(fn func() string) Option {
	return func(s *Service) {
		s.suffix = fn
	}
}

// New creates a Service.
func New(store Store, issuer SessionIssuer, opts ...Option) *Service {
	s := &Service{
		store:  store,
		issuer: issuer,
		logger: logging.Discard(),
		cost:   DefaultCost,
		suffix: randomSuffix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a local account and signs it in. An email already in use
// returns db.ErrEmailTaken; an explicit username already in use returns
// db.ErrUsernameTaken. A derived username is retried with a suffix.
func (s *Service) Register(ctx context.Context, reg Registration) (*Session, error) {
	email, err := normalizeEmail(reg.Email)
	if err != nil {
		return nil, err
	}
	if err := checkPassword(reg.Password); err != nil {
		return nil, err
	}

	hash, err := s.hash(reg.Password)
	if err != nil {
		return nil, err
	}

	username := strings.TrimSpace(reg.Username)
	derived := username == ""
	if derived {
		username = usernameFromEmail(email)
	}
	base := username

	for attempt := 1; ; attempt++ {
		user, err := s.store.CreateUser(ctx, db.NewUser{Username: username, Email: email}, hash)
		if err == nil {
			s.logger.Info("registered account", "user", user.ID, "username", user.Username)
			return s.issue(user)
		}
		if !derived || !errors.Is(err, db.ErrUsernameTaken) || attempt == maxUsernameAttempts {
			return nil, fmt.Errorf("registering account: %w", err)
		}

		s.logger.Debug("username taken, retrying", "username", username, "attempt", attempt)
		suffix := s.suffix()
		username = truncate(base, maxUsernameLen-len(suffix)-1) + "_" + suffix
	}
}

// Login checks an email and password and signs the account in. Recording
// the login time is best-effort.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required: %w", apperr.ErrInvalidInput)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up account: %w", err)
	}
	if user.ExternallyAuthenticated() {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	if err := s.store.TouchLogin(ctx, user.ID); err != nil {
		s.logger.Warn("recording login time failed", "user", user.ID, "err", err)
	}
	return s.issue(user)
}

// Profile returns the account behind a session.
func (s *Service) Profile(ctx context.Context, userID int64) (*User, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading account: %w", err)
	}
	u := view(user)
	return &u, nil
}

// UpdateProfile changes the username and/or email and returns a fresh
// session carrying the new values.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, change ProfileChange) (*Session, error) {
	var upd db.ProfileUpdate
	if change.Username != nil {
		if v := strings.TrimSpace(*change.Username); v != "" {
			if len(v) > maxUsernameLen {
				return nil, fmt.Errorf("username longer than %d characters: %w", maxUsernameLen, apperr.ErrInvalidInput)
			}
			upd.Username = &v
		}
	}
	if change.Email != nil && strings.TrimSpace(*change.Email) != "" {
		v, err := normalizeEmail(*change.Email)
		if err != nil {
			return nil, err
		}
		upd.Email = &v
	}
	if upd.Username == nil && upd.Email == nil {
		return nil, fmt.Errorf("no fields to update: %w", apperr.ErrInvalidInput)
	}

	user, err := s.store.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	s.logger.Info("updated profile", "user", user.ID)
	return s.issue(user)
}

// ChangePassword replaces the account's password. Provider-provisioned
// accounts have no local password and may set one without current; the
// return value reports that case.
func (s *Service) ChangePassword(ctx context.Context, userID int64, current, next string) (set bool, err error) {
	if err := checkPassword(next); err != nil {
		return false, err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("loading account: %w", err)
	}

	set = user.ExternallyAuthenticated()
	if !set {
		if current == "" {
			return false, fmt.Errorf("current password required: %w", apperr.ErrInvalidInput)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(current)); err != nil {
			return false, fmt.Errorf("current password is incorrect: %w", apperr.ErrInvalidInput)
		}
	}

	hash, err := s.hash(next)
	if err != nil {
		return false, err
	}
	if err := s.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return false, fmt.Errorf("storing password: %w", err)
	}

	s.logger.Info("changed password", "user", userID, "first_local_password", set)
	return set, nil
}

func (s *Service) hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", fmt.Errorf("password too long: %w", apperr.ErrInvalidInput)
	}
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(h), nil
}

func (s *Service) issue(user *db.User) (*Session, error) {
	token, err := s.issuer.Issue(user.ID, user.Email, user.Username)
	if err != nil {
		return nil, fmt.Errorf("issuing session: %w", err)
	}
	return &Session{User: view(user), Token: token}, nil
}

func checkPassword(p string) error {
	if len(p) < MinPasswordLen {
		return fmt.Errorf("password shorter than %d characters: %w", MinPasswordLen, apperr.ErrInvalidInput)
	}
	return nil
}

// normalizeEmail lower-cases a bare address and rejects anything else,
// including "Name <addr>" forms.
func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email %q: %w", raw, apperr.ErrInvalidInput)
	}
	return email, nil
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return truncate(local, maxUsernameLen)
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
