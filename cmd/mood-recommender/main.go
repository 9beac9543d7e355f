// Command mood-recommender runs the emotion-driven music recommendation API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/justestif/go-spotify-mood-recommender/internal/account"
	"github.com/justestif/go-spotify-mood-recommender/internal/analyze"
	"github.com/justestif/go-spotify-mood-recommender/internal/auth"
	"github.com/justestif/go-spotify-mood-recommender/internal/config"
	"github.com/justestif/go-spotify-mood-recommender/internal/db"
	"github.com/justestif/go-spotify-mood-recommender/internal/emotion"
	"github.com/justestif/go-spotify-mood-recommender/internal/history"
	"github.com/justestif/go-spotify-mood-recommender/internal/identity"
	"github.com/justestif/go-spotify-mood-recommender/internal/logging"
	"github.com/justestif/go-spotify-mood-recommender/internal/recommend"
	"github.com/justestif/go-spotify-mood-recommender/internal/session"
	"github.com/justestif/go-spotify-mood-recommender/internal/spotify"
	"github.com/justestif/go-spotify-mood-recommender/internal/web"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "mood-recommender",
		Usage: "Recommend music from a detected or declared emotion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML configuration file",
				Sources: cli.EnvVars("MOODTUNES_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Apply database migrations",
				Action: migrate,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	version, changed, err := db.Migrate(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "version", version, "changed", changed)
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	authManager, err := auth.New(
		cfg.Spotify.ClientID,
		cfg.Spotify.ClientSecret,
		cfg.Spotify.RedirectURI,
		auth.WithTimeout(cfg.Spotify.UpstreamTimeout.Duration),
	)
	if err != nil {
		return fmt.Errorf("creating credential manager: %w", err)
	}

	catalog := spotify.New(authManager,
		spotify.WithTimeout(cfg.Spotify.UpstreamTimeout.Duration),
		spotify.WithRateLimit(cfg.Spotify.RateLimit),
	)

	issuer := session.NewIssuer(cfg.Session.Secret, cfg.Session.TTL.Duration)

	resolver := identity.New(authManager, catalog, identity.DBStore{DB: database}, issuer,
		identity.WithLogger(logger.WithPrefix("identity")),
	)

	accounts := account.New(account.DBStore{DB: database}, issuer,
		account.WithLogger(logger.WithPrefix("account")),
	)

	engine := recommend.New(catalog, recommend.DBStore{DB: database},
		recommend.WithMarket(cfg.Spotify.Market),
		recommend.WithLogger(logger.WithPrefix("recommend")),
	)

	reader := history.New(catalog, history.DBStore{DB: database},
		history.WithMarket(cfg.Spotify.Market),
		history.WithLogger(logger.WithPrefix("history")),
	)

	classifier, err := emotion.NewRekognitionClassifier(ctx, cfg.AWSRegion)
	if err != nil {
		return fmt.Errorf("creating emotion classifier: %w", err)
	}
	analyzer := analyze.New(classifier, engine, analyze.DBStore{DB: database},
		analyze.WithLogger(logger.WithPrefix("analyze")),
	)

	server := web.NewServer(web.ServerConfig{
		Addr:         cfg.Addr,
		FrontendURL:  cfg.FrontendURL,
		CookieSecure: cfg.Session.CookieSecure,
		PlaylistID:   cfg.Spotify.PlaylistID,
		Market:       cfg.Spotify.Market,
	}, web.Services{
		Auth:      authManager,
		Resolver:  resolver,
		Sessions:  issuer,
		Accounts:  accounts,
		Recommend: engine,
		History:   reader,
		Analyzer:  analyzer,
		Catalog:   catalog,
		Errors:    database.ErrorLogs(),
		Health:    database,
	}, web.WithLogger(logger.WithPrefix("http")))

	return server.Run(ctx)
}
