package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/aggregator"
	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

type (
	// Server handles the public HTTP surface: following reads, manual
	// sync, sync status, and the OAuth connection flows.
	Server struct {
		*http.Server

		agg    *aggregator.Service
		users  streamers.UserRepo
		tokens streamers.TokenRepo
		states streamers.SyncStateRepo

		fetchClient *http.Client

		twitchOauth    oauth2.Config
		kickOauth      oauth2.Config
		twitchAPIURL   string
		kickUserURL    string
		twitchClientID string
		kickClientID   string

		secureCookie *securecookie.SecureCookie
		httpsCookies bool   // Whether or not HTTPS should be used for cookies
		frontendURL  string // Where callbacks send the browser when done
	}

	ServerConfig struct {
		Port           int
		CookieHashKey  []byte
		CookieBlockKey []byte
		HttpsCookies   bool
		CorsOrigin     string
		FrontendURL    string

		TwitchClientID     string
		TwitchClientSecret string
		TwitchRedirectURL  string
		TwitchAPIURL       string

		KickClientID     string
		KickClientSecret string
		KickRedirectURL  string
		KickAuthURL      string
		KickTokenURL     string
		KickUserURL      string
		KickScope        string
	}
)

func NewServer(config ServerConfig, agg *aggregator.Service, users streamers.UserRepo, tokens streamers.TokenRepo, states streamers.SyncStateRepo) *Server {
	r := errRouter{Router: mux.NewRouter()}

	if config.TwitchAPIURL == "" {
		config.TwitchAPIURL = "https://api.twitch.tv/helix"
	}
	kickScope := config.KickScope
	if kickScope == "" {
		kickScope = "user:read"
	}

	srvr := Server{
		agg:    agg,
		users:  users,
		tokens: tokens,
		states: states,
		fetchClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		twitchOauth: oauth2.Config{
			ClientID:     config.TwitchClientID,
			ClientSecret: config.TwitchClientSecret,
			RedirectURL:  config.TwitchRedirectURL,
			Scopes:       []string{"user:read:email", "user:read:follows"},
			Endpoint:     twitch.Endpoint,
		},
		kickOauth: oauth2.Config{
			ClientID:     config.KickClientID,
			ClientSecret: config.KickClientSecret,
			RedirectURL:  config.KickRedirectURL,
			Scopes:       []string{kickScope},
			Endpoint: oauth2.Endpoint{
				AuthURL:  config.KickAuthURL,
				TokenURL: config.KickTokenURL,
			},
		},
		twitchAPIURL:   config.TwitchAPIURL,
		kickUserURL:    config.KickUserURL,
		twitchClientID: config.TwitchClientID,
		kickClientID:   config.KickClientID,
		secureCookie:   securecookie.New(config.CookieHashKey, config.CookieBlockKey),
		httpsCookies:   config.HttpsCookies,
		frontendURL:    config.FrontendURL,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowCredentials(),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(accessLogMiddleware) // Log everything
	r.HandleFuncE("/health", srvr.getHealth).Methods(http.MethodGet)

	// Provider connection flows
	r.HandleFuncE("/auth/twitch/start", srvr.handleTwitchStart).Methods(http.MethodGet)
	r.HandleFuncE("/auth/twitch/callback", srvr.handleTwitchCallback).Methods(http.MethodGet)
	r.HandleFuncE("/auth/kick/start", srvr.handleKickStart).Methods(http.MethodGet)
	r.HandleFuncE("/auth/kick/callback", srvr.handleKickCallback).Methods(http.MethodGet)
	r.HandleFuncE("/auth/logout", srvr.getLogout).Methods(http.MethodGet)

	authed := errRouter{Router: r.NewRoute().Subrouter()}
	authed.Use(requireSessionMiddleware(srvr.secureCookie))

	// Unified following view
	authed.HandleFuncE("/api/following", srvr.getFollowing).Methods(http.MethodGet)
	authed.HandleFuncE("/api/following/sync", srvr.postFollowingSync).Methods(http.MethodPost)
	authed.HandleFuncE("/api/sync-status", srvr.getSyncStatus).Methods(http.MethodGet)

	return &srvr
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]any{"ok": true, "service": "kick-tg-rewards"})
}
