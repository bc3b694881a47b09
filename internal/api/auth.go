package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

// Redirects the user to Twitch's consent page.
func (s *Server) handleTwitchStart(w http.ResponseWriter, r *http.Request) error {
	sess := session(r, s.secureCookie)
	sess.State = uuid.NewString()
	setSession(w, s.secureCookie, s.httpsCookies, sess)

	http.Redirect(w, r, s.twitchOauth.AuthCodeURL(sess.State), http.StatusTemporaryRedirect)
	return nil
}

func (s *Server) handleTwitchCallback(w http.ResponseWriter, r *http.Request) error {
	sess := session(r, s.secureCookie)
	q := r.URL.Query()
	if sess.State == "" || q.Get("state") != sess.State {
		s.redirectError(w, r, "invalid_state")
		return nil
	}
	if q.Get("error") != "" {
		s.redirectError(w, r, q.Get("error"))
		return nil
	}

	tok, err := s.twitchOauth.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		s.redirectError(w, r, err.Error())
		return nil
	}

	usr, err := s.fetchTwitchUser(r.Context(), tok.AccessToken)
	if err != nil {
		s.redirectError(w, r, err.Error())
		return nil
	}

	return s.finishConnect(w, r, streamers.PlatformTwitch, usr, tok)
}

// Redirects the user to Kick's consent page, carrying a PKCE challenge.
func (s *Server) handleKickStart(w http.ResponseWriter, r *http.Request) error {
	sess := session(r, s.secureCookie)
	sess.State = uuid.NewString()
	sess.Verifier = oauth2.GenerateVerifier()
	setSession(w, s.secureCookie, s.httpsCookies, sess)

	authURL := s.kickOauth.AuthCodeURL(sess.State, oauth2.S256ChallengeOption(sess.Verifier))
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	return nil
}

func (s *Server) handleKickCallback(w http.ResponseWriter, r *http.Request) error {
	sess := session(r, s.secureCookie)
	q := r.URL.Query()
	if sess.State == "" || q.Get("state") != sess.State {
		s.redirectError(w, r, "invalid_state")
		return nil
	}
	if q.Get("error") != "" {
		s.redirectError(w, r, q.Get("error"))
		return nil
	}

	tok, err := s.kickOauth.Exchange(r.Context(), q.Get("code"), oauth2.VerifierOption(sess.Verifier))
	if err != nil {
		s.redirectError(w, r, err.Error())
		return nil
	}

	usr, err := s.fetchKickUser(r.Context(), tok.AccessToken)
	if err != nil {
		s.redirectError(w, r, err.Error())
		return nil
	}

	return s.finishConnect(w, r, streamers.PlatformKick, usr, tok)
}

// finishConnect upserts the user, stores the token that marks the
// provider connected, and starts a session.
func (s *Server) finishConnect(w http.ResponseWriter, r *http.Request, platform streamers.Platform, usr streamers.User, tok *oauth2.Token) error {
	ctx := r.Context()

	ensured, err := s.users.EnsureUser(ctx, usr)
	if err != nil {
		s.redirectError(w, r, err.Error())
		return nil
	}

	stored := streamers.Token{
		UserID:      ensured.ID,
		Provider:    platform,
		AccessToken: tok.AccessToken,
	}
	if tok.RefreshToken != "" {
		stored.RefreshToken = &tok.RefreshToken
	}
	if tok.TokenType != "" {
		stored.TokenType = &tok.TokenType
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		stored.ExpiresAt = &expiry
	}
	if err := s.tokens.UpsertToken(ctx, stored); err != nil {
		s.redirectError(w, r, err.Error())
		return nil
	}

	setSession(w, s.secureCookie, s.httpsCookies, sessionState{UserID: ensured.ID})

	http.Redirect(w, r, s.frontendURL, http.StatusFound)
	return nil
}

func (s *Server) getLogout(w http.ResponseWriter, r *http.Request) error {
	setSession(w, s.secureCookie, s.httpsCookies, sessionState{})

	http.Redirect(w, r, s.frontendURL, http.StatusFound)
	return nil
}

func (s *Server) redirectError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, s.frontendURL+"?error="+url.QueryEscape(msg), http.StatusFound)
}

func (s *Server) fetchTwitchUser(ctx context.Context, accessToken string) (streamers.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.twitchAPIURL+"/users", nil)
	if err != nil {
		return streamers.User{}, fmt.Errorf("error building request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", s.twitchClientID)

	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return streamers.User{}, fmt.Errorf("error fetching twitch user: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return streamers.User{}, fmt.Errorf("twitch user fetch returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			ID              string `json:"id"`
			Login           string `json:"login"`
			DisplayName     string `json:"display_name"`
			Email           string `json:"email"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return streamers.User{}, fmt.Errorf("error decoding twitch user: %s", err)
	}
	if len(payload.Data) == 0 || payload.Data[0].ID == "" {
		return streamers.User{}, fmt.Errorf("no user info returned from twitch")
	}

	u := payload.Data[0]
	usr := streamers.User{TwitchID: &u.ID}
	if name := u.DisplayName; name != "" {
		usr.DisplayName = &name
	} else if u.Login != "" {
		usr.DisplayName = &u.Login
	}
	if u.Email != "" {
		usr.Email = &u.Email
	}
	if u.ProfileImageURL != "" {
		usr.AvatarURL = &u.ProfileImageURL
	}

	return usr, nil
}

func (s *Server) fetchKickUser(ctx context.Context, accessToken string) (streamers.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.kickUserURL, nil)
	if err != nil {
		return streamers.User{}, fmt.Errorf("error building request: %s", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", s.kickClientID)

	resp, err := s.fetchClient.Do(req)
	if err != nil {
		return streamers.User{}, fmt.Errorf("error fetching kick user: %s", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return streamers.User{}, fmt.Errorf("kick user fetch returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			UserID         json.Number `json:"user_id"`
			Name           string      `json:"name"`
			Email          string      `json:"email"`
			ProfilePicture string      `json:"profile_picture"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return streamers.User{}, fmt.Errorf("error decoding kick user: %s", err)
	}
	if len(payload.Data) == 0 || payload.Data[0].UserID.String() == "" {
		return streamers.User{}, fmt.Errorf("no user info returned from kick")
	}

	u := payload.Data[0]
	kickID := u.UserID.String()
	usr := streamers.User{KickID: &kickID}
	if u.Name != "" {
		usr.DisplayName = &u.Name
	}
	if u.Email != "" {
		usr.Email = &u.Email
	}
	if u.ProfilePicture != "" {
		usr.AvatarURL = &u.ProfilePicture
	}

	return usr, nil
}
