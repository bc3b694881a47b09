// Rewards backend: exposes a user's followed streamers across Twitch
// and Kick through a single cached view, plus the OAuth glue to
// connect those accounts.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/aggregator"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/api"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/logger"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/migrations"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/provider"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/sqlite"
)

type config struct {
	Port     int    `env:"PORT, default=8000"`
	Database string `env:"DATABASE, required"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	FollowingCacheTTL time.Duration `env:"FOLLOWING_CACHE_TTL, default=300s"`
	SyncMinInterval   time.Duration `env:"FOLLOWING_SYNC_MIN_INTERVAL, default=30s"`

	CorsOrigin     string `env:"CORS_ORIGIN, default=*"`
	FrontendURL    string `env:"FRONTEND_URL, default=http://localhost:8001"`
	HTTPSCookies   bool   `env:"HTTPS_COOKIES, default=false"`
	CookieHashKey  string `env:"COOKIE_HASH_KEY, required"`
	CookieBlockKey string `env:"COOKIE_BLOCK_KEY"`

	TwitchClientID     string `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string `env:"TWITCH_CLIENT_SECRET"`
	TwitchRedirectURI  string `env:"TWITCH_REDIRECT_URI"`

	KickClientID     string `env:"KICK_CLIENT_ID"`
	KickClientSecret string `env:"KICK_CLIENT_SECRET"`
	KickRedirectURI  string `env:"KICK_REDIRECT_URI"`
	KickAuthURL      string `env:"KICK_AUTH_URL"`
	KickTokenURL     string `env:"KICK_TOKEN_URL"`
	KickUserURL      string `env:"KICK_USER_URL"`
	KickScope        string `env:"KICK_SCOPE, default=user:read"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	// Determine which logger format to use
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, nil)
	if cfg.LoggerFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	}
	l := slog.New(logger.NewContextHandler(handler))
	slog.SetDefault(l)

	if err := runApp(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runApp(ctx context.Context, cfg config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Connect to the sqlite db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Retry until the db file is actually reachable
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		if err := dbx.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}

		return nil
	}); err != nil {
		return fmt.Errorf("error pinging database: %s", err)
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	repo := sqlite.New(dbx)

	providers := []provider.Provider{
		provider.NewTwitch(cfg.TwitchClientID),
		provider.NewKick(cfg.KickClientID),
	}
	limiter := aggregator.NewSyncLimiter(cfg.SyncMinInterval)
	agg := aggregator.New(aggregator.Config{
		CacheTTL: cfg.FollowingCacheTTL,
	}, providers, repo, repo, repo, limiter)

	srvr := api.NewServer(api.ServerConfig{
		Port:           cfg.Port,
		CookieHashKey:  []byte(cfg.CookieHashKey),
		CookieBlockKey: []byte(cfg.CookieBlockKey),
		HttpsCookies:   cfg.HTTPSCookies,
		CorsOrigin:     cfg.CorsOrigin,
		FrontendURL:    cfg.FrontendURL,

		TwitchClientID:     cfg.TwitchClientID,
		TwitchClientSecret: cfg.TwitchClientSecret,
		TwitchRedirectURL:  cfg.TwitchRedirectURI,

		KickClientID:     cfg.KickClientID,
		KickClientSecret: cfg.KickClientSecret,
		KickRedirectURL:  cfg.KickRedirectURI,
		KickAuthURL:      cfg.KickAuthURL,
		KickTokenURL:     cfg.KickTokenURL,
		KickUserURL:      cfg.KickUserURL,
		KickScope:        cfg.KickScope,
	}, agg, repo, repo, repo)

	slog.Info("running", "port", cfg.Port)

	var g run.Group
	g.Add(func() error {
		if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}

		return nil
	}, func(error) {
		downCtx, downCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer downCancel()
		if err := srvr.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})
	g.Add(func() error {
		// Keep the throttle map from accumulating every user ever seen
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				limiter.Reap(now.Add(-cfg.SyncMinInterval))
			}
		}
	}, func(error) {
		cancel()
	})
	g.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {
		cancel()
	})

	return g.Run()
}
