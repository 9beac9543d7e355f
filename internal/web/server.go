// Package web exposes the recommender over a JSON HTTP API.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justestif/go-spotify-mood-recommender/internal/account"
	"github.com/justestif/go-spotify-mood-recommender/internal/analyze"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/history"
	"github.com/justestif/go-spotify-mood-recommender/internal/identity"
	"github.com/justestif/go-spotify-mood-recommender/internal/logging"
	"github.com/justestif/go-spotify-mood-recommender/internal/recommend"
	"github.com/justestif/go-spotify-mood-recommender/internal/session"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
)

// Authorizer builds the provider consent URL.
type Authorizer interface {
	AuthURL(state string) string
}

// Resolver resolves an authorization callback into an account.
type Resolver interface {
	Resolve(ctx context.Context, cb identity.Callback) (*identity.Result, error)
}

// Sessions verifies session tokens.
type Sessions interface {
	Verify(token string) (*session.Claims, error)
	TTL() time.Duration
}

// Accounts runs the local credential flows.
type Accounts interface {
	Register(ctx context.Context, reg account.Registration) (*account.Session, error)
	Login(ctx context.Context, email, password string) (*account.Session, error)
	Profile(ctx context.Context, userID int64) (*account.User, error)
	UpdateProfile(ctx context.Context, userID int64, change account.ProfileChange) (*account.Session, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) (bool, error)
}

// Recommender generates and persists recommendations.
type Recommender interface {
	Recommend(ctx context.Context, req recommend.Request, confidence *float64) (*recommend.Generation, error)
}

// History reads past sessions and analyses.
type History interface {
	Sessions(ctx context.Context, userID int64, page, limit int) ([]history.SessionSummary, error)
	Analyses(ctx context.Context, userID int64, limit int) ([]history.AnalysisEntry, error)
	WeeklySummary(ctx context.Context, userID int64) (*history.WeeklySummary, error)
}

// Analyzer runs the photo flow.
type Analyzer interface {
	Analyze(ctx context.Context, userID *int64, image []byte, count int) (*analyze.Result, error)
}

// Catalog reads public playlists.
type Catalog interface {
	PlaylistTracks(ctx context.Context, playlistID, market string, limit int) ([]spotify.Track, error)
}

// ErrorRecorder stores error responses.
type ErrorRecorder interface {
	Record(ctx context.Context, e *db.ErrorLog) error
}

// Pinger checks a dependency for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the components behind the handlers.
type Services struct {
	Auth      Authorizer
	Resolver  Resolver
	Sessions  Sessions
	Accounts  Accounts
	Recommend Recommender
	History   History
	Analyzer  Analyzer
	Catalog   Catalog
	Errors    ErrorRecorder // optional
	Health    Pinger        // optional
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Addr         string
	FrontendURL  string
	CookieSecure bool
	PlaylistID   string
	Market       string
}

// Server is the HTTP server.
type Server struct {
	router   chi.Router
	server   *http.Server
	handlers *Handlers
	logger   *log.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer creates a new server.
func NewServer(cfg ServerConfig, svc Services, opts ...Option) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handlers = NewHandlers(cfg, svc, s.logger)

	s.setupMiddleware(cfg.FrontendURL)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(frontendURL string) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors(frontendURL))
	s.router.Use(s.handlers.loadClaims)
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.NotFound(h.notFound)
	s.router.MethodNotAllowed(h.methodNotAllowed)

	s.router.Get("/health", h.Health)

	s.router.Route("/auth", func(r chi.Router) {
		r.Get("/spotify/start", h.Start)
		r.Get("/spotify/callback", h.Callback)
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)
	})

	s.router.Post("/recommendations", h.Recommend)
	s.router.Group(func(r chi.Router) {
		r.Use(h.requireSession)
		r.Get("/recommendations/history", h.SessionHistory)
		r.Get("/recommendations/weekly-summary", h.WeeklySummary)
		r.Get("/history", h.AnalysisHistory)
		r.Get("/user/profile", h.Profile)
		r.Patch("/user/profile", h.UpdateProfile)
		r.Post("/user/change-password", h.ChangePassword)
	})

	s.router.Post("/analyze", h.Analyze)
	s.router.Get("/catalog/featured", h.Featured)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
